package repositories

import (
	"dm-lab/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored with the protobuf wire format. Field numbers are part of the
// on-disk format: never reuse or renumber them.
const (
	msgFieldID             protowire.Number = 1
	msgFieldConversationID protowire.Number = 2
	msgFieldSenderID       protowire.Number = 3
	msgFieldContent        protowire.Number = 4
	msgFieldCreatedAt      protowire.Number = 5
	msgFieldReadBy         protowire.Number = 6
)

const (
	convFieldID            protowire.Number = 1
	convFieldParticipantA  protowire.Number = 2
	convFieldParticipantB  protowire.Number = 3
	convFieldLastMessageID protowire.Number = 4
	convFieldLastMessageAt protowire.Number = 5
	convFieldCreatedAt     protowire.Number = 6
	convFieldUpdatedAt     protowire.Number = 7
)

const (
	userFieldID           protowire.Number = 1
	userFieldName         protowire.Number = 2
	userFieldEmail        protowire.Number = 3
	userFieldImage        protowire.Number = 4
	userFieldPasswordHash protowire.Number = 5
	userFieldRoles        protowire.Number = 6
	userFieldCreatedAt    protowire.Number = 7
)

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(t.UnixNano()))
}

func decodeTime(v uint64) time.Time {
	return time.Unix(0, int64(v)).UTC()
}

// decodeFields walks a record and hands every string and varint field to the
// callbacks. Unknown wire types are skipped.
func decodeFields(b []byte, onString func(protowire.Number, string) error, onVarint func(protowire.Number, uint64)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := onString(num, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			onVarint(num, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func parseUUID(field string, v string) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("decode %s: %w", field, err)
	}
	return id, nil
}

func encodeMessage(m domain.Message) []byte {
	var b []byte
	b = appendString(b, msgFieldID, m.ID.String())
	b = appendString(b, msgFieldConversationID, m.ConversationID.String())
	b = appendString(b, msgFieldSenderID, m.SenderID)
	b = appendString(b, msgFieldContent, m.Content)
	b = appendTime(b, msgFieldCreatedAt, m.CreatedAt)
	for _, reader := range m.ReadBy {
		b = appendString(b, msgFieldReadBy, reader)
	}
	return b
}

func decodeMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	err := decodeFields(b, func(num protowire.Number, v string) (err error) {
		switch num {
		case msgFieldID:
			m.ID, err = parseUUID("message id", v)
		case msgFieldConversationID:
			m.ConversationID, err = parseUUID("conversation id", v)
		case msgFieldSenderID:
			m.SenderID = v
		case msgFieldContent:
			m.Content = v
		case msgFieldReadBy:
			m.ReadBy = append(m.ReadBy, v)
		}
		return err
	}, func(num protowire.Number, v uint64) {
		if num == msgFieldCreatedAt {
			m.CreatedAt = decodeTime(v)
		}
	})
	return m, err
}

func encodeConversation(c domain.Conversation) []byte {
	var b []byte
	b = appendString(b, convFieldID, c.ID.String())
	b = appendString(b, convFieldParticipantA, c.Participants[0])
	b = appendString(b, convFieldParticipantB, c.Participants[1])
	if c.LastMessageID != nil {
		b = appendString(b, convFieldLastMessageID, c.LastMessageID.String())
		b = appendTime(b, convFieldLastMessageAt, c.LastMessageAt)
	}
	b = appendTime(b, convFieldCreatedAt, c.CreatedAt)
	b = appendTime(b, convFieldUpdatedAt, c.UpdatedAt)
	return b
}

func decodeConversation(b []byte) (domain.Conversation, error) {
	var c domain.Conversation
	err := decodeFields(b, func(num protowire.Number, v string) error {
		switch num {
		case convFieldID:
			id, err := parseUUID("conversation id", v)
			c.ID = id
			return err
		case convFieldParticipantA:
			c.Participants[0] = v
		case convFieldParticipantB:
			c.Participants[1] = v
		case convFieldLastMessageID:
			id, err := parseUUID("last message id", v)
			if err != nil {
				return err
			}
			c.LastMessageID = &id
		}
		return nil
	}, func(num protowire.Number, v uint64) {
		switch num {
		case convFieldLastMessageAt:
			c.LastMessageAt = decodeTime(v)
		case convFieldCreatedAt:
			c.CreatedAt = decodeTime(v)
		case convFieldUpdatedAt:
			c.UpdatedAt = decodeTime(v)
		}
	})
	return c, err
}

func encodeUser(u User) []byte {
	var b []byte
	b = appendString(b, userFieldID, u.ID)
	b = appendString(b, userFieldName, u.Name)
	b = appendString(b, userFieldEmail, u.Email)
	b = appendString(b, userFieldImage, u.Image)
	b = appendString(b, userFieldPasswordHash, u.PasswordHash)
	for _, role := range u.Roles {
		b = appendString(b, userFieldRoles, role)
	}
	b = appendTime(b, userFieldCreatedAt, u.CreatedAt)
	return b
}

func decodeUser(b []byte) (User, error) {
	var u User
	err := decodeFields(b, func(num protowire.Number, v string) error {
		switch num {
		case userFieldID:
			u.ID = v
		case userFieldName:
			u.Name = v
		case userFieldEmail:
			u.Email = v
		case userFieldImage:
			u.Image = v
		case userFieldPasswordHash:
			u.PasswordHash = v
		case userFieldRoles:
			u.Roles = append(u.Roles, v)
		}
		return nil
	}, func(num protowire.Number, v uint64) {
		if num == userFieldCreatedAt {
			u.CreatedAt = decodeTime(v)
		}
	})
	return u, err
}
