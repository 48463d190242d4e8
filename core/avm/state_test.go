// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package avm

import (
	"errors"
	"testing"
)

func TestDataCellBounds(t *testing.T) {
	s := newTestMachine(t, op(OpNop), 4)

	for _, idx := range []int32{0, 3} {
		if err := s.PutDataLong(idx, 42); err != nil {
			t.Errorf("PutDataLong(%d): %v", idx, err)
		}
	}
	for _, idx := range []int32{-1, 4, 1 << 20} {
		if _, err := s.GetDataLong(idx); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("GetDataLong(%d): got %v; want ErrInvalidAddress", idx, err)
		}
		if err := s.PutDataLong(idx, 1); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("PutDataLong(%d): got %v; want ErrInvalidAddress", idx, err)
		}
	}
}

func TestDataCellRoundTrip(t *testing.T) {
	s := newTestMachine(t, op(OpNop), 2)
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 62)} {
		mustPutData(t, s, 1, v)
		if got := mustGetData(t, s, 1); got != v {
			t.Errorf("cell round trip: got %d; want %d", got, v)
		}
	}
}

func TestBuildImageRoundTrip(t *testing.T) {
	code := program(op(OpSetVal), addr(0), val64(7), op(OpFinImd))
	data := []byte{1, 2, 3} // padded to 8
	image, err := BuildImage(code, data, 32, 40)
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}
	s, err := NewMachineState(image, 5, 10)
	if err != nil {
		t.Fatalf("NewMachineState: %v", err)
	}

	if s.CodeSize() != 16 { // 14 code bytes padded to 16
		t.Errorf("code size = %d; want 16", s.CodeSize())
	}
	if s.DataSize() != 8 || s.NumDataCells() != 1 {
		t.Errorf("data size = %d cells = %d; want 8 and 1", s.DataSize(), s.NumDataCells())
	}
	if s.CreationBlockHeight() != 5 || s.FrozenBalance() != 10 {
		t.Errorf("creation=%d threshold=%d; want 5 and 10", s.CreationBlockHeight(), s.FrozenBalance())
	}
	if s.OnErrorAddress() >= 0 {
		t.Errorf("fresh machine has an error handler installed")
	}
}

func TestBuildImageRejectsUnalignedStacks(t *testing.T) {
	if _, err := BuildImage(op(OpNop), nil, 12, 8); err == nil {
		t.Fatal("BuildImage accepted a call stack size that is not a multiple of 8")
	}
}

func TestNewMachineStateRejectsBadImages(t *testing.T) {
	good, err := BuildImage(op(OpFinImd), nil, 16, 16)
	if err != nil {
		t.Fatalf("BuildImage: %v", err)
	}

	cases := []struct {
		name  string
		image []byte
	}{
		{"truncated header", good[:8]},
		{"wrong version", append([]byte{0xff, 0xff}, good[2:]...)},
		{"truncated body", good[:len(good)-4]},
		{"trailing garbage", append(append([]byte{}, good...), 0)},
	}
	for _, tc := range cases {
		if _, err := NewMachineState(tc.image, 1, 0); err == nil {
			t.Errorf("%s: NewMachineState accepted a bad image", tc.name)
		}
	}
}

func TestStackDepthAccounting(t *testing.T) {
	s := newTestMachine(t, op(OpNop), 1)
	for i := 0; i < 3; i++ {
		if err := s.pushUser(int64(i)); err != nil {
			t.Fatalf("pushUser: %v", err)
		}
	}
	if err := s.pushCall(42); err != nil {
		t.Fatalf("pushCall: %v", err)
	}
	if s.UserStackDepth() != 3 || s.CallStackDepth() != 1 {
		t.Fatalf("depths = %d/%d; want 3/1", s.UserStackDepth(), s.CallStackDepth())
	}

	if v, err := s.popUser(); err != nil || v != 2 {
		t.Errorf("popUser = %d, %v; want 2", v, err)
	}
	if v, err := s.popCall(); err != nil || v != 42 {
		t.Errorf("popCall = %d, %v; want 42", v, err)
	}
}
