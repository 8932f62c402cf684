package appointment

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SlotKey is the composite form of a schedule slot.
type SlotKey struct {
	ScheduleID  int64  `json:"scheduleId"`
	CenterID    int64  `json:"centerId"`
	SpecialtyID int64  `json:"specialtyId"`
	MedicID     int64  `json:"medicId"`
	Date        string `json:"date"`
}

var slotKeyFields = []string{"scheduleId", "centerId", "specialtyId", "medicId", "date"}

// ScheduleSlot is either a bare numeric slot id or a composite SlotKey.
// Its shape is checked once on the way in; afterwards the bytes are carried
// unchanged through the record store, the channels and the ledger.
type ScheduleSlot struct {
	raw json.RawMessage
}

// ParseScheduleSlot validates raw and keeps it in compact form.
func ParseScheduleSlot(raw []byte) (ScheduleSlot, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ScheduleSlot{}, fmt.Errorf("%w: empty", ErrInvalidScheduleSlot)
	}

	switch trimmed[0] {
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return ScheduleSlot{}, fmt.Errorf("%w: %v", ErrInvalidScheduleSlot, err)
		}
		for _, f := range slotKeyFields {
			if _, ok := fields[f]; !ok {
				return ScheduleSlot{}, fmt.Errorf("%w: composite slot missing %q", ErrInvalidScheduleSlot, f)
			}
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return ScheduleSlot{}, fmt.Errorf("%w: %v", ErrInvalidScheduleSlot, err)
		}
	default:
		return ScheduleSlot{}, fmt.Errorf("%w: must be a number or an object", ErrInvalidScheduleSlot)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return ScheduleSlot{}, fmt.Errorf("%w: %v", ErrInvalidScheduleSlot, err)
	}
	return ScheduleSlot{raw: buf.Bytes()}, nil
}

func NumericSlot(id int64) ScheduleSlot {
	return ScheduleSlot{raw: json.RawMessage(fmt.Sprintf("%d", id))}
}

func CompositeSlot(k SlotKey) ScheduleSlot {
	raw, _ := json.Marshal(k)
	return ScheduleSlot{raw: raw}
}

func (s ScheduleSlot) IsZero() bool { return len(s.raw) == 0 }

// Raw returns the slot bytes as received.
func (s ScheduleSlot) Raw() json.RawMessage { return s.raw }

func (s ScheduleSlot) String() string { return string(s.raw) }

func (s ScheduleSlot) Equal(o ScheduleSlot) bool { return bytes.Equal(s.raw, o.raw) }

func (s ScheduleSlot) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s *ScheduleSlot) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*s = ScheduleSlot{}
		return nil
	}
	parsed, err := ParseScheduleSlot(b)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
