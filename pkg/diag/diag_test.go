package diag

import "testing"

func TestSeverityOfRanges(t *testing.T) {
	cases := []struct {
		code Code
		want Severity
	}{
		{1000, SeverityError},
		{1999, SeverityError},
		{2000, SeverityWarning},
		{2999, SeverityWarning},
		{3000, SeverityInfo},
		{3999, SeverityInfo},
		{4000, SeverityHint},
		{9999, SeverityHint},
	}
	for _, c := range cases {
		if got := SeverityOf(c.code); got != c.want {
			t.Errorf("SeverityOf(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestAddAndArgRoundTrip(t *testing.T) {
	b := NewBag()
	b.Add(1000, Span{Start: 0, Length: 3, Line: 1, Column: 0}, nil, []byte("foo"), []byte("bar"))

	if b.Len() != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", b.Len())
	}
	d := b.At(0)
	if string(b.Arg(d, 0)) != "foo" || string(b.Arg(d, 1)) != "bar" {
		t.Errorf("argument bytes did not round trip: %q, %q", b.Arg(d, 0), b.Arg(d, 1))
	}
	if b.Arg(d, 2) != nil {
		t.Errorf("expected nil for an out-of-range argument index, got %q", b.Arg(d, 2))
	}
}

func TestAddDropsArgsBeyondMax(t *testing.T) {
	b := NewBag()
	b.Add(1000, Span{}, nil, []byte("a"), []byte("b"), []byte("c"), []byte("d"))
	d := b.At(0)
	if d.NumArgs != maxArgs {
		t.Errorf("expected NumArgs capped at %d, got %d", maxArgs, d.NumArgs)
	}
}

func TestClearResetsButKeepsCapacity(t *testing.T) {
	b := NewBag()
	b.Add(1000, Span{}, nil, []byte("x"))
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("expected empty bag after Clear, got len %d", b.Len())
	}
	b.Add(2000, Span{}, nil, []byte("y"))
	if b.Len() != 1 || b.At(0).Code != 2000 {
		t.Errorf("bag did not accept new diagnostics after Clear")
	}
}

func TestHasErrors(t *testing.T) {
	b := NewBag()
	b.Add(3000, Span{}, nil)
	if b.HasErrors() {
		t.Error("an info-only bag must not report HasErrors")
	}
	b.Add(1000, Span{}, nil)
	if !b.HasErrors() {
		t.Error("a bag containing an error-range code must report HasErrors")
	}
}

func TestFormatSubstitutesPositionalArgs(t *testing.T) {
	b := NewBag()
	b.Add(1000, Span{}, nil, []byte("x"), []byte("int"))
	templates := Templates{1000: "variable {0} has type {1}, expected string"}
	msg := b.Format(b.At(0), templates)
	if msg != "variable x has type int, expected string" {
		t.Errorf("unexpected formatted message: %q", msg)
	}
}

func TestFormatFallsBackToNumericCode(t *testing.T) {
	b := NewBag()
	b.Add(4242, Span{}, nil)
	msg := b.Format(b.At(0), Templates{})
	if msg != "diagnostic 4242" {
		t.Errorf("expected numeric fallback, got %q", msg)
	}
}

func TestToLSPJSONProducesOneEntryPerDiagnostic(t *testing.T) {
	b := NewBag()
	b.Add(1000, Span{Line: 2, Column: 5, Length: 3}, nil, []byte("x"))
	out, err := b.ToLSPJSON(Templates{1000: "bad variable {0}"})
	if err != nil {
		t.Fatalf("ToLSPJSON returned error: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty JSON output")
	}
}
