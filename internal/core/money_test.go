package core

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.0", "1.00", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{".5", "0.50", true},
		{"1.005", "1.01", true}, // half-up rounding
		{"12.344", "12.34", true},
		{" 2.50 ", "2.50", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"0.004", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1 000", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error, got %s", tc.in, got)
		}
	}
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	sum := Money{}
	for i := 0; i < 10; i++ {
		sum = sum.Add(MustMoney("0.10"))
	}
	if !sum.Equal(MustMoney("1")) {
		t.Fatalf("ten times 0.10 = %s, want 1.00", sum)
	}
	if got := MustMoney("5000").Sub(MustMoney("500")); got.String() != "4500.00" {
		t.Fatalf("5000 - 500 = %s", got)
	}
	if !MustMoney("3").Neg().IsNegative() {
		t.Fatal("negated positive amount should be negative")
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[string]string{
		"0":        "0.00",
		"12.5":     "12.50",
		"0.123456": "0.123456",
		"-7":       "-7.00",
	}
	for in, want := range cases {
		if got := MustMoney(in).String(); got != want {
			t.Errorf("MustMoney(%q).String() = %q, want %q", in, got, want)
		}
	}
}

func TestMoneyCents(t *testing.T) {
	if got := MustMoney("12.345").Cents(); got != 1235 {
		t.Fatalf("Cents() = %d, want 1235", got)
	}
	if got := MoneyFromCents(250).String(); got != "2.50" {
		t.Fatalf("MoneyFromCents(250) = %s", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Money `json:"a"`
	}{A: MustMoney("4500")})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":"4500.00"}` {
		t.Fatalf("marshal = %s", b)
	}

	var v struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"12.30","b":7.5}`), &v); err != nil {
		t.Fatal(err)
	}
	if !v.A.Equal(MustMoney("12.3")) || !v.B.Equal(MustMoney("7.5")) {
		t.Fatalf("unmarshal = %s, %s", v.A, v.B)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := MustMoney("0.01").Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := MustMoney("-1").Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}
