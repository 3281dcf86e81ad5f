package main

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncode(t *testing.T) {
	out, err := runCLI(t, "encode", "--", "37", "-122", "18")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got tileOut
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("bad json %q: %v", out, err)
	}
	if got.Code != "023010232031131030" || got.Zoom != 18 || got.EnclosingRadiusM != 109 {
		t.Fatalf("got=%+v", got)
	}
}

func TestDecode_RoundTripsEncode(t *testing.T) {
	out, err := runCLI(t, "decode", "023010232031131030")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var got tileOut
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	lat, lon := got.Center[0], got.Center[1]
	if lat < 36.99 || lat > 37.01 || lon < -122.01 || lon > -121.99 {
		t.Fatalf("center=%v", got.Center)
	}

	if _, err := runCLI(t, "decode", "0124"); err == nil {
		t.Fatalf("digit 4 must be rejected")
	}
}

func TestSimplifyAndParent(t *testing.T) {
	out, err := runCLI(t, "simplify", "000", "001", "002", "003", "01")
	if err != nil {
		t.Fatalf("simplify: %v", err)
	}
	var s struct {
		Prefixes []string `json:"prefixes"`
		Pattern  string   `json:"pattern"`
	}
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if !reflect.DeepEqual(s.Prefixes, []string{"00", "01"}) || s.Pattern != "^00|^01" {
		t.Fatalf("got=%+v", s)
	}

	out, err = runCLI(t, "parent", "0231", "02302")
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	var p tileOut
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if p.Code != "023" {
		t.Fatalf("parent=%s want 023", p.Code)
	}

	if _, err := runCLI(t, "parent", "0", "1"); err == nil {
		t.Fatalf("different root quadrants have no common parent")
	}
}

func TestCover(t *testing.T) {
	out, err := runCLI(t, "cover", "37.77,-122.42|37.78,-122.41", "14")
	if err != nil {
		t.Fatalf("cover: %v", err)
	}
	var codes []string
	if err := json.Unmarshal([]byte(out), &codes); err != nil {
		t.Fatalf("bad json: %v", err)
	}
	if len(codes) == 0 {
		t.Fatalf("no codes")
	}
	for _, c := range codes {
		if len(c) != 14 {
			t.Fatalf("code %s not at zoom 14", c)
		}
	}

	if _, err := runCLI(t, "cover", "37.78,-122.41|37.77,-122.42", "14"); err == nil {
		t.Fatalf("inverted bounds must fail")
	}
}
