package gopro

import (
	"bytes"
	"errors"
	"testing"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16383, 16384, 1<<32 - 1, 1<<63 - 1}
	for _, v := range values {
		enc := EncodeVarint(v)
		got, n, err := DecodeVarint(enc, 0)
		if err != nil {
			t.Fatalf("value %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("value %d decoded as %d", v, got)
		}
		if n != len(enc) {
			t.Fatalf("value %d: consumed %d of %d bytes", v, n, len(enc))
		}
	}
}

func TestVarintTooLarge(t *testing.T) {
	// Ten continuation bytes never terminate within the 64-bit bound.
	buf := bytes.Repeat([]byte{0xFF}, 10)
	_, _, err := DecodeVarint(buf, 0)
	if !errors.Is(err, ErrVarintTooLarge) {
		t.Fatalf("err = %v, want ErrVarintTooLarge", err)
	}
}

func TestVarintTruncated(t *testing.T) {
	_, _, err := DecodeVarint([]byte{0x80, 0x80}, 0)
	if !errors.Is(err, ErrVarintTruncated) {
		t.Fatalf("err = %v, want ErrVarintTruncated", err)
	}
}

func TestDecodeFields(t *testing.T) {
	msg := append(EncodeStringField(3, "gopro"), EncodeBoolField(6, true)...)
	msg = append(msg, EncodeIntField(2, 27)...)

	fields, err := DecodeFields(msg)
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := fields.String(3); !ok || s != "gopro" {
		t.Fatalf("field 3 = %q ok=%v", s, ok)
	}
	if v, ok := fields.Uint(6); !ok || v != 1 {
		t.Fatalf("field 6 = %d ok=%v", v, ok)
	}
	if v, ok := fields.Uint(2); !ok || v != 27 {
		t.Fatalf("field 2 = %d ok=%v", v, ok)
	}
}

func TestDecodeFieldsUnknownWireType(t *testing.T) {
	msg := EncodeIntField(1, 5)
	// Wire type 3 (group start) is not handled: decoding stops there and
	// returns what parsed cleanly.
	msg = append(msg, byte(2<<3|3), 0xAA)
	msg = append(msg, EncodeIntField(4, 9)...)

	fields, err := DecodeFields(msg)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := fields.Uint(1); !ok || v != 5 {
		t.Fatalf("field 1 = %d ok=%v", v, ok)
	}
	if _, ok := fields[4]; ok {
		t.Fatal("field after unknown wire type should not have been decoded")
	}
}

func TestParseStatusFieldsOffsets(t *testing.T) {
	body := append(EncodeStringField(COHNFieldIP, "192.168.1.50"), EncodeIntField(COHNFieldState, COHNStateConnected)...)

	// Response with result-code byte: payload starts at offset 3.
	withResult := append([]byte{FeatureQuery, ActionGetCOHNStatus, 0x00}, body...)
	fields, ok := ParseStatusFields(withResult)
	if !ok {
		t.Fatal("offset-3 response did not parse")
	}
	if ip, _ := fields.String(COHNFieldIP); ip != "192.168.1.50" {
		t.Fatalf("ip = %q", ip)
	}

	// Response without result-code byte: payload starts at offset 2.
	withoutResult := append([]byte{FeatureQuery, ActionGetCOHNStatus}, body...)
	fields, ok = ParseStatusFields(withoutResult)
	if !ok {
		t.Fatal("offset-2 response did not parse")
	}
	if state, _ := fields.Uint(COHNFieldState); state != COHNStateConnected {
		t.Fatalf("state = %d", state)
	}
}

func TestParseCertificate(t *testing.T) {
	pem := "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"
	resp := append([]byte{FeatureQuery, ActionGetCOHNCert, 0x00}, EncodeStringField(2, pem)...)

	got, ok := ParseCertificate(resp)
	if !ok || got != pem {
		t.Fatalf("cert ok=%v got=%q", ok, got)
	}

	if _, ok := ParseCertificate([]byte{FeatureQuery, ActionGetCOHNCert}); ok {
		t.Fatal("empty cert response should not parse")
	}
}

func TestShutterFrame(t *testing.T) {
	if !bytes.Equal(ShutterFrame(true), []byte{0x03, 0x01, 0x01, 0x01}) {
		t.Fatalf("start frame = %x", ShutterFrame(true))
	}
	if !bytes.Equal(ShutterFrame(false), []byte{0x03, 0x01, 0x01, 0x00}) {
		t.Fatalf("stop frame = %x", ShutterFrame(false))
	}
}
