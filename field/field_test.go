package field

import "testing"

func TestPairOrder(t *testing.T) {
	want := []string{"TT", "TE", "TB", "ET", "EE", "EB", "BT", "BE", "BB"}
	pairs := Pairs()
	if len(pairs) != NumPairs {
		t.Fatalf("len=%d, want %d", len(pairs), NumPairs)
	}
	for i, p := range pairs {
		if p.String() != want[i] {
			t.Errorf("pair[%d]=%s, want %s", i, p, want[i])
		}
		if p.Index() != i {
			t.Errorf("pair %s index=%d, want %d", p, p.Index(), i)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, p := range Pairs() {
		got, err := Parse(p.String())
		if err != nil {
			t.Fatalf("Parse(%s): %v", p, err)
		}
		if got != p {
			t.Fatalf("Parse(%s)=%v, want %v", p, got, p)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "T", "TX", "te", "TTT"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestSpin(t *testing.T) {
	if got := T.Spin(); got != 0 {
		t.Errorf("T spin=%d, want 0", got)
	}
	if got := E.Spin(); got != 2 {
		t.Errorf("E spin=%d, want 2", got)
	}
	if got := B.Spin(); got != 2 {
		t.Errorf("B spin=%d, want 2", got)
	}
}

func TestSpinCombo(t *testing.T) {
	cases := []struct {
		pair Pair
		want SpinCombo
	}{
		{TT, Spin0x0},
		{TE, Spin0x2},
		{TB, Spin0x2},
		{ET, Spin0x2},
		{BT, Spin0x2},
		{EE, Spin2x2},
		{EB, Spin2x2},
		{BE, Spin2x2},
		{BB, Spin2x2},
	}
	for _, tc := range cases {
		if got := tc.pair.SpinCombo(); got != tc.want {
			t.Errorf("%s combo=%v, want %v", tc.pair, got, tc.want)
		}
	}
}

func TestSpinComboPairs(t *testing.T) {
	if got := Spin0x0.NumFields(); got != 1 {
		t.Errorf("spin0xspin0 fields=%d, want 1", got)
	}
	if got := Spin0x2.NumFields(); got != 2 {
		t.Errorf("spin0xspin2 fields=%d, want 2", got)
	}
	if got := Spin2x2.NumFields(); got != 4 {
		t.Errorf("spin2xspin2 fields=%d, want 4", got)
	}

	want := []Pair{EE, EB, BE, BB}
	got := Spin2x2.Pairs()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("spin2xspin2 pairs=%v, want %v", got, want)
		}
	}
}

func TestDataType(t *testing.T) {
	cases := []struct {
		pair Pair
		want string
	}{
		{TT, "cl_00"},
		{TE, "cl_0e"},
		{TB, "cl_0b"},
		{ET, "cl_0e"},
		{BT, "cl_0b"},
		{EE, "cl_ee"},
		{EB, "cl_eb"},
		{BE, "cl_be"},
		{BB, "cl_bb"},
	}
	for _, tc := range cases {
		if got := tc.pair.DataType(); got != tc.want {
			t.Errorf("%s data type=%q, want %q", tc.pair, got, tc.want)
		}
	}
}

func TestComboLabels(t *testing.T) {
	want := []string{"spin0xspin0", "spin0xspin2", "spin2xspin2"}
	for i, sc := range Combos() {
		if sc.String() != want[i] {
			t.Errorf("combo[%d]=%s, want %s", i, sc, want[i])
		}
	}
}
