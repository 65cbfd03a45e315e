package memory

import "fmt"

// Record is one retainable unit derived from a pre-compaction snapshot.
type Record struct {
	Content string
	Meta    map[string]any
}

// Records flattens a pre-compaction snapshot into retainable records: one
// per non-empty message, then one per tool invocation. Every record carries
// the session key and origin "compaction" in its metadata.
func (ev PreCompaction) Records() []Record {
	out := make([]Record, 0, len(ev.Snapshot.Messages)+len(ev.Snapshot.Tools))

	for _, m := range ev.Snapshot.Messages {
		if m.Content == "" {
			continue
		}
		out = append(out, Record{
			Content: m.Content,
			Meta: map[string]any{
				"session_key": ev.SessionKey,
				"role":        m.Role,
				"message_id":  m.ID,
				"origin":      "compaction",
			},
		})
	}

	for _, t := range ev.Snapshot.Tools {
		content := fmt.Sprintf("tool %s(%s) -> %s", t.Name, t.Arguments, t.Result)
		if t.Error != "" {
			content += " error: " + t.Error
		}
		out = append(out, Record{
			Content: content,
			Meta: map[string]any{
				"session_key": ev.SessionKey,
				"tool":        t.Name,
				"origin":      "compaction",
			},
		})
	}

	return out
}
