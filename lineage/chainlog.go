package lineage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentrail/frontdoor/cryptoutils"
	"github.com/agentrail/frontdoor/interfaces"
)

// chainLine is one JSONL entry of the hash-chain log.
type chainLine struct {
	Seq           int64              `json:"seq"`
	PrevChainHash string             `json:"prev_chain_hash"`
	Record        VerificationRecord `json:"record"`
	ChainHash     string             `json:"chain_hash"`
}

// ChainLog is the append-only, hash-chained verification record log. There
// is exactly one writer per chain path system-wide: every append reads the
// previous record's hash, so all access is serialized behind the mutex.
type ChainLog struct {
	path string

	mu       sync.Mutex
	file     *os.File
	lastHash cryptoutils.ChainHash
	seq      int64
}

// OpenChainLog opens (creating if needed) the chain log at path and replays
// it to recover the tail hash and sequence.
func OpenChainLog(path string) (*ChainLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating chain log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening chain log: %w", err)
	}

	l := &ChainLog{path: path, file: file, lastHash: cryptoutils.GenesisChainHash()}
	lines, err := l.readAll()
	if err != nil {
		file.Close()
		return nil, err
	}
	if n := len(lines); n > 0 {
		l.seq = lines[n-1].Seq
		l.lastHash, err = cryptoutils.ParseChainHash(lines[n-1].ChainHash)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("parsing tail chain hash: %w", err)
		}
	}
	return l, nil
}

// Append seals the record into the chain: computes its chain hash against
// the previous record, writes one JSONL line and syncs it.
func (l *ChainLog) Append(rec *VerificationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.PrevChainHash = l.lastHash.String()
	rec.ChainHash = ""
	canonical, err := rec.canonicalBytes()
	if err != nil {
		return fmt.Errorf("canonicalizing record: %w", err)
	}
	next := cryptoutils.ChainStep(l.lastHash, canonical)
	rec.ChainHash = next.String()

	line := chainLine{
		Seq:           l.seq + 1,
		PrevChainHash: rec.PrevChainHash,
		Record:        *rec,
		ChainHash:     rec.ChainHash,
	}
	encoded, err := json.Marshal(&line)
	if err != nil {
		return fmt.Errorf("encoding chain line: %w", err)
	}

	if _, err := l.file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("appending chain line: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("syncing chain log: %w", err)
	}

	l.seq = line.Seq
	l.lastHash = next
	return nil
}

// Records returns all chained records in insertion order.
func (l *ChainLog) Records() ([]VerificationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readAll()
	if err != nil {
		return nil, err
	}
	records := make([]VerificationRecord, len(lines))
	for i, line := range lines {
		records[i] = line.Record
	}
	return records, nil
}

// VerifyChain replays the stored log from genesis, re-deriving every hash
// from content plus prior hash. Any divergence from the stored values is
// reported as interfaces.ErrChainDiverged.
func (l *ChainLog) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readAll()
	if err != nil {
		return err
	}

	prev := cryptoutils.GenesisChainHash()
	for i, line := range lines {
		if line.PrevChainHash != prev.String() {
			return fmt.Errorf("line %d: prev hash mismatch: %w", i+1, interfaces.ErrChainDiverged)
		}

		rec := line.Record
		rec.PrevChainHash = line.PrevChainHash
		rec.ChainHash = ""
		canonical, err := rec.canonicalBytes()
		if err != nil {
			return fmt.Errorf("line %d: canonicalizing record: %w", i+1, err)
		}
		derived := cryptoutils.ChainStep(prev, canonical)
		if derived.String() != line.ChainHash || line.ChainHash != line.Record.ChainHash {
			return fmt.Errorf("line %d: chain hash mismatch: %w", i+1, interfaces.ErrChainDiverged)
		}
		prev = derived
	}
	return nil
}

// Close releases the log file handle.
func (l *ChainLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// readAll parses every line of the log. Caller must hold the mutex (or be
// in construction).
func (l *ChainLog) readAll() ([]chainLine, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading chain log: %w", err)
	}

	var lines []chainLine
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var line chainLine
		if err := json.Unmarshal(text, &line); err != nil {
			return nil, fmt.Errorf("parsing chain line %d: %w", len(lines)+1, err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning chain log: %w", err)
	}
	return lines, nil
}
