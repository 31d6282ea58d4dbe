package can

import (
	"errors"
	"testing"
)

func TestNewMarksExtended(t *testing.T) {
	std := New(0x123, 1, 2)
	if std.Extended() || std.ID() != 0x123 || std.Len != 2 {
		t.Fatalf("unexpected std frame: %+v", std)
	}
	ext := New(0x1ABCDE)
	if !ext.Extended() || ext.ID() != 0x1ABCDE {
		t.Fatalf("unexpected ext frame: %+v", ext)
	}
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name string
		fr   Frame
		want error
	}{
		{"std", Frame{CANID: 0x7FF, Len: 8}, nil},
		{"stdTooWide", Frame{CANID: 0x800}, ErrInvalidID},
		{"ext", Frame{CANID: CAN_EFF_MASK | CAN_EFF_FLAG}, nil},
		{"rtr", Frame{CANID: 0x10 | CAN_RTR_FLAG}, nil},
		{"badLen", Frame{CANID: 0x1, Len: 9}, ErrInvalidLen},
		{"errorFrame", Frame{CANID: 0x4 | CAN_ERR_FLAG}, ErrErrorFrame},
	}
	for _, tc := range tests {
		if err := tc.fr.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}
