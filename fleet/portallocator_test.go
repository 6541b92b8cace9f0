package fleet

import (
	"net"
	"testing"

	"github.com/use-agent/browserbridge/apperrors"
)

func TestNewPortAllocatorRejectsInvertedRange(t *testing.T) {
	if _, err := NewPortAllocator(100, 50); !apperrors.Is(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestNewPortAllocatorRejectsOutOfBoundsRange(t *testing.T) {
	if _, err := NewPortAllocator(0, 100); err == nil {
		t.Fatal("expected error for min < 1")
	}
	if _, err := NewPortAllocator(100, 70000); err == nil {
		t.Fatal("expected error for max > 65535")
	}
}

func TestAllocateReturnsLowestFreePort(t *testing.T) {
	a, err := NewPortAllocator(9000, 9005)
	if err != nil {
		t.Fatal(err)
	}
	p1, _ := a.Allocate()
	if p1 != 9000 {
		t.Fatalf("expected first allocation to be 9000, got %d", p1)
	}
	p2, _ := a.Allocate()
	if p2 != 9001 {
		t.Fatalf("expected second allocation to be 9001, got %d", p2)
	}
	a.Release(p1)
	p3, _ := a.Allocate()
	if p3 != 9000 {
		t.Fatalf("expected the freed lowest port to be reused, got %d", p3)
	}
}

func TestAllocateExhaustsRange(t *testing.T) {
	a, err := NewPortAllocator(9000, 9001)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(); !apperrors.Is(err, apperrors.CodePortExhausted) {
		t.Fatalf("expected port_exhausted, got %v", err)
	}
}

func TestAllocatedCountNeverExceedsCapacity(t *testing.T) {
	a, err := NewPortAllocator(9000, 9009)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < a.Capacity(); i++ {
		if _, err := a.Allocate(); err != nil {
			t.Fatal(err)
		}
		if a.AllocatedCount() > a.Capacity() {
			t.Fatalf("allocated_count %d exceeds capacity %d", a.AllocatedCount(), a.Capacity())
		}
	}
}

func TestReleaseUnallocatedPortReturnsFalse(t *testing.T) {
	a, err := NewPortAllocator(9000, 9005)
	if err != nil {
		t.Fatal(err)
	}
	if a.Release(9003) {
		t.Fatal("expected release of a never-allocated port to report false")
	}
	if a.AllocatedCount() != 0 {
		t.Fatalf("expected state unchanged, got allocated_count=%d", a.AllocatedCount())
	}
}

func TestSingletonRangeCapacityOne(t *testing.T) {
	a, err := NewPortAllocator(9000, 9000)
	if err != nil {
		t.Fatal(err)
	}
	if a.Capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", a.Capacity())
	}
	if _, err := a.Allocate(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(); !apperrors.Is(err, apperrors.CodePortExhausted) {
		t.Fatalf("expected port_exhausted after single allocation, got %v", err)
	}
}

func TestAllocateVerifiedSkipsUnbindablePort(t *testing.T) {
	// Hold the lowest port of the range open so it cannot be bound.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	a, err := NewPortAllocator(busy, busy+2)
	if err != nil {
		t.Fatal(err)
	}
	port, err := a.AllocateVerified()
	if err != nil {
		t.Fatal(err)
	}
	if port == busy || port < busy || port > busy+2 {
		t.Fatalf("expected a bindable port in (%d, %d], got %d", busy, busy+2, port)
	}
	if a.AllocatedCount() != 1 {
		t.Fatalf("expected only the returned port to stay allocated, got %d", a.AllocatedCount())
	}
}
