//go:generate go run go.uber.org/mock/mockgen -source=user_index.go -destination=../mocks/mock_user_index.go -package=mocks
// Package search keeps a full-text index of user display fields for the user
// picker. Badger stays the source of truth; the index only returns ids.
package search

import (
	"context"
	"dm-lab/domain"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	fieldName  = "name"
	fieldEmail = "email"
	idField    = "_id"
)

type IUserIndex interface {
	Index(user domain.User) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

type UserIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

// OpenUserIndex opens the index stored at path, or an in-memory index when path
// is empty.
func OpenUserIndex(path string, log *slog.Logger) (*UserIndex, error) {
	cfg := bluge.InMemoryOnlyConfig()
	if path != "" {
		cfg = bluge.DefaultConfig(path)
	}
	writer, err := bluge.OpenWriter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	return &UserIndex{writer: writer, log: log}, nil
}

// Index inserts or replaces the user document. Name and email are stored
// lowercased so searches are case-insensitive.
func (i *UserIndex) Index(user domain.User) error {
	doc := bluge.NewDocument(user.ID).
		AddField(bluge.NewKeywordField(fieldName, strings.ToLower(user.Name))).
		AddField(bluge.NewKeywordField(fieldEmail, strings.ToLower(user.Email)))
	return i.writer.Update(doc.ID(), doc)
}

// Search returns the ids of users whose name or email contains query,
// at most limit of them. An empty query matches everyone.
func (i *UserIndex) Search(ctx context.Context, query string, limit int) ([]string, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	request := bluge.NewTopNSearch(limit, buildQuery(query))
	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var ids []string
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == idField {
				ids = append(ids, string(value))
				return false
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	i.log.Debug(fmt.Sprintf("User search matched %d document(s)", len(ids)), "query", query)
	return ids, nil
}

func (i *UserIndex) Close() error {
	return i.writer.Close()
}

func buildQuery(raw string) bluge.Query {
	term := strings.ToLower(strings.TrimSpace(raw))
	// Wildcard metacharacters typed by the user are matched literally by dropping them.
	term = strings.NewReplacer("*", "", "?", "", "\\", "").Replace(term)
	if term == "" {
		return bluge.NewMatchAllQuery()
	}
	pattern := "*" + term + "*"
	return bluge.NewBooleanQuery().
		AddShould(bluge.NewWildcardQuery(pattern).SetField(fieldName)).
		AddShould(bluge.NewWildcardQuery(pattern).SetField(fieldEmail)).
		SetMinShould(1)
}
