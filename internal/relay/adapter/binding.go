package adapter

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/dorkos/dorkos/internal/sqlitestore"
)

// SessionStrategy controls how an inbound adapter message is turned into an
// Agent Manager session key (spec §4.7 "Binding store").
type SessionStrategy string

const (
	StrategyStateless SessionStrategy = "stateless"
	StrategyPerUser   SessionStrategy = "per-user"
	StrategyPerChat   SessionStrategy = "per-chat"
)

// Binding maps an adapter to an agent working directory (spec §3, Binding).
type Binding struct {
	ID              string          `json:"id"`
	AdapterID       string          `json:"adapterId"`
	AgentID         string          `json:"agentId"`
	AgentWorkingDir string          `json:"agentWorkingDirectory"`
	SessionStrategy SessionStrategy `json:"sessionStrategy"`
	ChatIDFilter    string          `json:"chatIdFilter,omitempty"`
	ChannelType     string          `json:"channelType,omitempty"`
	Label           string          `json:"label,omitempty"`
}

// ErrDuplicateBinding is returned by Create when a binding already exists for
// the same (adapterId, agentId, filter tuple).
var ErrDuplicateBinding = errors.New("binding already exists for this adapter/agent/filter tuple")

const bindingSchema = `
CREATE TABLE IF NOT EXISTS bindings (
	id            TEXT PRIMARY KEY,
	adapter_id    TEXT NOT NULL,
	agent_id      TEXT NOT NULL,
	agent_dir     TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	chat_id       TEXT NOT NULL DEFAULT '',
	channel_type  TEXT NOT NULL DEFAULT '',
	label         TEXT NOT NULL DEFAULT '',
	UNIQUE(adapter_id, agent_id, chat_id, channel_type)
);
`

// BindingStore is the durable Adapter↔Agent mapping store
// (`{data}/relay/bindings.db`, spec §6.2).
type BindingStore struct {
	db *sql.DB
}

// OpenBindingStore opens (creating if absent) the binding store at path.
func OpenBindingStore(path string) (*BindingStore, error) {
	db, err := sqlitestore.Open(path, bindingSchema)
	if err != nil {
		return nil, err
	}
	return &BindingStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BindingStore) Close() error { return s.db.Close() }

// GetAll returns every stored binding.
func (s *BindingStore) GetAll() ([]Binding, error) {
	rows, err := s.db.Query(`SELECT id, adapter_id, agent_id, agent_dir, strategy, chat_id, channel_type, label FROM bindings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		if err := rows.Scan(&b.ID, &b.AdapterID, &b.AgentID, &b.AgentWorkingDir, &b.SessionStrategy, &b.ChatIDFilter, &b.ChannelType, &b.Label); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Create inserts a binding atomically, rejecting duplicate
// (adapterId, agentId, chatId, channelType) tuples.
func (s *BindingStore) Create(b Binding) error {
	_, err := s.db.Exec(
		`INSERT INTO bindings (id, adapter_id, agent_id, agent_dir, strategy, chat_id, channel_type, label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AdapterID, b.AgentID, b.AgentWorkingDir, string(b.SessionStrategy), b.ChatIDFilter, b.ChannelType, b.Label,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateBinding
	}
	return err
}

// Delete removes a binding by ID. Idempotent: deleting a nonexistent ID is
// not an error.
func (s *BindingStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM bindings WHERE id = ?`, id)
	return err
}

// MatchBindings returns bindings whose (adapterId, optional chatId, optional
// channelType) filters admit the given inbound message.
func (s *BindingStore) MatchBindings(adapterID, chatID, channelType string) ([]Binding, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, b := range all {
		if b.AdapterID != adapterID {
			continue
		}
		if b.ChatIDFilter != "" && b.ChatIDFilter != chatID {
			continue
		}
		if b.ChannelType != "" && b.ChannelType != channelType {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// ResolveSessionKey derives a sessionKey for a matched binding, per its
// SessionStrategy (spec §4.7): stateless mints a fresh session suffix every
// call; per-user hashes (adapterId, chatId) and per-chat hashes (adapterId,
// chatId, channelType) into a stable key, so repeated messages in the same
// chat land on the same Agent Manager session. No sender ID enters any key.
func ResolveSessionKey(b Binding, chatID, channelType, freshSuffix string) string {
	switch b.SessionStrategy {
	case StrategyPerUser:
		return "relay:" + hashKey(b.AdapterID, chatID)
	case StrategyPerChat:
		return "relay:" + hashKey(b.AdapterID, chatID, channelType)
	default: // stateless
		return "relay:" + hashKey(b.AdapterID, chatID, freshSuffix)
	}
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
