package conninfo

import (
	"errors"
	"testing"

	"github.com/plbridge/plclient/internal/errkind"
)

func TestDeviceIDHashStringNoUID(t *testing.T) {
	var id [16]byte
	if got := DeviceIDHashString(id); got != "NoUid" {
		t.Fatalf("got %q, want NoUid", got)
	}
}

func TestDeviceIDHashStringDeterministicAndShaped(t *testing.T) {
	id := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	got1 := DeviceIDHashString(id)
	got2 := DeviceIDHashString(id)
	if got1 != got2 {
		t.Fatalf("not deterministic: %q vs %q", got1, got2)
	}
	if len(got1) != 6 {
		t.Fatalf("length = %d, want 6", len(got1))
	}
	firstLetterOK := false
	for i := 0; i < len(hashAlphabet)-10; i++ {
		if got1[0] == hashAlphabet[i] {
			firstLetterOK = true
			break
		}
	}
	if !firstLetterOK {
		t.Fatalf("first character %q is not restricted to the no-digits range", got1[0])
	}
	for _, ch := range got1 {
		found := false
		for _, a := range hashAlphabet {
			if ch == a {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("character %q not in hash alphabet", ch)
		}
	}
}

func TestDeviceIDHashStringDiffersAcrossIDs(t *testing.T) {
	a := DeviceIDHashString([16]byte{1})
	b := DeviceIDHashString([16]byte{2})
	if a == b {
		t.Fatalf("expected distinct hash strings, got %q for both", a)
	}
}

func TestValidateAcceptsInRangeValues(t *testing.T) {
	c := ConInfo{
		MaxReqPL2Size: 1024,
		MaxRspPL2Size: 1024,
		MsgLengthC2D:  1024,
		MsgLengthD2C:  512,
	}
	if err := Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsOutOfRangePL2Size(t *testing.T) {
	c := ConInfo{MaxReqPL2Size: 64, MaxRspPL2Size: 1024}
	err := Validate(c)
	if !errors.Is(err, errkind.Sentinel(errkind.ServerConnection)) {
		t.Fatalf("expected server-connection error, got %v", err)
	}
}

func TestValidateRejectsOversizedChannelLength(t *testing.T) {
	c := ConInfo{
		MaxReqPL2Size: 1024,
		MaxRspPL2Size: 1024,
		MsgLengthC2D:  2048,
	}
	err := Validate(c)
	if !errors.Is(err, errkind.Sentinel(errkind.ServerConnection)) {
		t.Fatalf("expected server-connection error, got %v", err)
	}
}

func TestFeatureAndPhysBits(t *testing.T) {
	c := ConInfo{DevConFeat: FeatReset | FeatUnlock, DevConPhys: PhysSWD}
	if !c.HasFeature(FeatReset) || !c.HasFeature(FeatUnlock) {
		t.Fatalf("expected reset and unlock features set")
	}
	if c.HasFeature(FeatResetAndHalt) {
		t.Fatalf("did not expect reset-and-halt set")
	}
	if !c.HasPhys(PhysSWD) || c.HasPhys(PhysJTAG) {
		t.Fatalf("phys bits wrong: %+v", c)
	}
}
