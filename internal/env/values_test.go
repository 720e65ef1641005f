package env

import (
	"reflect"
	"testing"
	"time"
)

func TestTypedGetters(t *testing.T) {
	t.Setenv(PollInterval, "250ms")
	t.Setenv(Firmware, "  /fw/disk.bin ")
	t.Setenv(Shell, "")

	if got := Duration(PollInterval, time.Second); got != 250*time.Millisecond {
		t.Fatalf("Duration = %s", got)
	}
	if got := String(Firmware, ""); got != "/fw/disk.bin" {
		t.Fatalf("String = %q", got)
	}
	if got := String(Shell, "/bin/sh"); got != "/bin/sh" {
		t.Fatalf("String fallback = %q", got)
	}
}

func TestListDistinguishesUnsetFromEmpty(t *testing.T) {
	if got := List("FWAGENT_TEST_UNSET_LIST", []string{"rpool"}); !reflect.DeepEqual(got, []string{"rpool"}) {
		t.Fatalf("unset list = %v", got)
	}
	t.Setenv(ReservedPools, "")
	if got := List(ReservedPools, []string{"rpool"}); len(got) != 0 {
		t.Fatalf("empty list = %v", got)
	}
	t.Setenv(ReservedPools, "rpool, zones ,,")
	if got := List(ReservedPools, nil); !reflect.DeepEqual(got, []string{"rpool", "zones"}) {
		t.Fatalf("list = %v", got)
	}
}
