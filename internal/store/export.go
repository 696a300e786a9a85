package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/viva/internal/model"
)

// ExportResults builds an export document for all results matching the filter.
func (s *Store) ExportResults(ctx context.Context, f model.ExportFilter) (model.ResultsExport, error) {
	results, err := s.ListResults(ctx, model.HistoryFilter{SubjectID: f.SubjectID, TopicID: f.TopicID})
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list results: %w", err)
	}

	topicNames := make(map[int64]string)
	out := model.ResultsExport{
		GeneratedAt: time.Now().UTC(),
		Filter:      f,
		Results:     make([]model.ResultExport, 0, len(results)),
	}
	for _, r := range results {
		name, ok := topicNames[r.TopicID]
		if !ok {
			t, err := s.GetTopic(ctx, r.TopicID)
			if err != nil {
				return model.ResultsExport{}, fmt.Errorf("get topic %d: %w", r.TopicID, err)
			}
			if t != nil {
				name = t.Name
			}
			topicNames[r.TopicID] = name
		}
		out.Results = append(out.Results, model.ResultExport{Result: r, TopicName: name})
	}
	out.Count = len(out.Results)
	return out, nil
}
