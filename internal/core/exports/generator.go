package exports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// GenerateParams identifies the conversation a generator works on.
type GenerateParams struct {
	Source             DataSource
	ConversationSlugID string
	ConversationID     int64
}

// GenerateResult is a finished CSV file.
type GenerateResult struct {
	Content     []byte
	RecordCount int
}

// Generator produces one CSV file type.
type Generator interface {
	FileType() string
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)
}

// Registry holds the generators an export runs, in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []Generator
	byKey map[string]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Generator)}
}

// DefaultRegistry returns a registry with the comments and votes generators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(CommentsGenerator{})
	_ = r.Register(VotesGenerator{})
	return r
}

// Register adds g. File types must be unique.
func (r *Registry) Register(g Generator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[g.FileType()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGenerator, g.FileType())
	}
	r.byKey[g.FileType()] = g
	r.order = append(r.order, g)
	return nil
}

// Get returns the generator for fileType.
func (r *Registry) Get(fileType string) (Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byKey[fileType]
	return g, ok
}

// All returns every generator in registration order.
func (r *Registry) All() []Generator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Generator(nil), r.order...)
}

// FileTypes lists the registered file types.
func (r *Registry) FileTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	for i, g := range r.order {
		out[i] = g.FileType()
	}
	return out
}

// polisDatetime matches the datetime column of Polis exports,
// e.g. "Sat Nov 17 05:09:36 UTC 2018".
const polisDatetime = "Mon Jan 02 15:04:05 MST 2006"

func formatDatetime(t time.Time) string {
	return t.UTC().Format(polisDatetime)
}

// writeCSV renders header plus rows. An empty rows slice still yields the
// header line.
func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// CommentsGenerator writes comments.csv in the Polis layout.
type CommentsGenerator struct{}

func (CommentsGenerator) FileType() string { return "comments" }

func (CommentsGenerator) Generate(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	opinions, err := p.Source.ListOpinions(ctx, p.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load opinions: %w", err)
	}

	rows := make([][]string, 0, len(opinions))
	for _, o := range opinions {
		rows = append(rows, []string{
			strconv.FormatInt(o.CreatedAt.Unix(), 10),
			formatDatetime(o.CreatedAt),
			strconv.FormatInt(o.ID, 10),
			strconv.FormatInt(o.AuthorParticipant, 10),
			strconv.Itoa(o.Agrees),
			strconv.Itoa(o.Disagrees),
			strconv.Itoa(o.Moderated),
			o.Body,
		})
	}
	content, err := writeCSV([]string{
		"timestamp", "datetime", "comment-id", "author-id", "agrees", "disagrees", "moderated", "comment-body",
	}, rows)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Content: content, RecordCount: len(rows)}, nil
}

// VotesGenerator writes votes.csv in the Polis layout.
type VotesGenerator struct{}

func (VotesGenerator) FileType() string { return "votes" }

func (VotesGenerator) Generate(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	votes, err := p.Source.ListVotes(ctx, p.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load votes: %w", err)
	}

	rows := make([][]string, 0, len(votes))
	for _, v := range votes {
		rows = append(rows, []string{
			strconv.FormatInt(v.CastAt.Unix(), 10),
			formatDatetime(v.CastAt),
			strconv.FormatInt(v.OpinionID, 10),
			strconv.FormatInt(v.VoterParticipant, 10),
			strconv.Itoa(v.Value.PolisCode()),
		})
	}
	content, err := writeCSV([]string{"timestamp", "datetime", "comment-id", "voter-id", "vote"}, rows)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Content: content, RecordCount: len(rows)}, nil
}
