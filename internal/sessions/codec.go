package sessions

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quorumchat/quorum/pkg/models"
)

// messageRow is the SQL-facing shape of a message. Tool calls, tool results,
// and metadata travel as JSON text columns.
type messageRow struct {
	ID           string
	SessionID    string
	Role         string
	Content      string
	Model        sql.NullString
	ToolCalls    sql.NullString
	ToolResults  sql.NullString
	Metadata     sql.NullString
	TokensUsed   sql.NullInt64
	CostEstimate sql.NullFloat64
}

func encodeMessage(sessionID string, msg models.Message, usage *models.Usage) (messageRow, error) {
	row := messageRow{
		ID:        msg.ID,
		SessionID: sessionID,
		Role:      string(msg.Role),
		Content:   msg.Content,
	}
	if msg.Model != "" {
		row.Model = sql.NullString{String: msg.Model, Valid: true}
	}
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return row, fmt.Errorf("encode tool calls: %w", err)
		}
		row.ToolCalls = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.ToolResults) > 0 {
		data, err := json.Marshal(msg.ToolResults)
		if err != nil {
			return row, fmt.Errorf("encode tool results: %w", err)
		}
		row.ToolResults = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return row, fmt.Errorf("encode metadata: %w", err)
		}
		row.Metadata = sql.NullString{String: string(data), Valid: true}
	}
	if usage != nil {
		row.TokensUsed = sql.NullInt64{Int64: int64(usage.TotalTokens), Valid: true}
		row.CostEstimate = sql.NullFloat64{Float64: usage.CostEstimate, Valid: true}
	}
	return row, nil
}

func (r messageRow) decode() (models.Message, error) {
	msg := models.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      models.Role(r.Role),
		Content:   r.Content,
	}
	if r.Model.Valid {
		msg.Model = r.Model.String
	}
	if r.ToolCalls.Valid {
		if err := json.Unmarshal([]byte(r.ToolCalls.String), &msg.ToolCalls); err != nil {
			return msg, fmt.Errorf("decode tool calls: %w", err)
		}
	}
	if r.ToolResults.Valid {
		if err := json.Unmarshal([]byte(r.ToolResults.String), &msg.ToolResults); err != nil {
			return msg, fmt.Errorf("decode tool results: %w", err)
		}
	}
	if r.Metadata.Valid {
		if err := json.Unmarshal([]byte(r.Metadata.String), &msg.Metadata); err != nil {
			return msg, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return msg, nil
}

func encodeMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}
