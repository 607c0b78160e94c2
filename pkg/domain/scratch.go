package domain

import "sort"

// SeedWriter is the writer recorded for entries placed by Command.Seed.
const SeedWriter = "<seed>"

type scratchEntry struct {
	ref    KeyRef
	value  any
	writer string
	seq    int
}

// Scratch is the temporary context of a single command execution. It is
// allocated fresh for every execution and never shared between them.
type Scratch struct {
	entries map[string]scratchEntry
	seq     int
}

func newScratch() *Scratch {
	return &Scratch{entries: make(map[string]scratchEntry)}
}

func (s *Scratch) put(ref KeyRef, value any, writer string) {
	s.seq++
	s.entries[ref.Name] = scratchEntry{ref: ref, value: value, writer: writer, seq: s.seq}
}

func (s *Scratch) lookup(name string) (any, bool) {
	entry, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Has reports whether a value is stored under the key.
func (s *Scratch) Has(ref KeyRef) bool {
	_, ok := s.entries[ref.Name]
	return ok
}

// Len returns the number of stored entries.
func (s *Scratch) Len() int { return len(s.entries) }

// Writer returns the rule that last wrote the key.
func (s *Scratch) Writer(ref KeyRef) (string, bool) {
	entry, ok := s.entries[ref.Name]
	if !ok {
		return "", false
	}
	return entry.writer, true
}

// ScratchEntry is an exported snapshot of one temporary context value.
type ScratchEntry struct {
	Key    string `json:"key"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Writer string `json:"writer"`
}

// Entries returns the stored values in the order they were last written.
func (s *Scratch) Entries() []ScratchEntry {
	ordered := make([]scratchEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]ScratchEntry, 0, len(ordered))
	for _, entry := range ordered {
		out = append(out, ScratchEntry{
			Key:    entry.ref.Name,
			Type:   entry.ref.TypeName(),
			Value:  entry.value,
			Writer: entry.writer,
		})
	}
	return out
}
