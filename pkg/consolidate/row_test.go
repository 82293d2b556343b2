package consolidate

import "testing"

func row(cpu, ram, disk string) []string {
	return []string{"07/03/2025 09:00:00", "aa:bb", cpu, "3.2", ram, disk}
}

func TestCheckRow(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   Reason
	}{
		{"typical", row("50", "60", "10"), Accepted},
		{"lower bounds", row("0", "0", "0"), Accepted},
		{"upper bounds", row("100", "100", "1e9"), Accepted},
		{"decimals", row("12.5", "99.99", "0.01"), Accepted},
		{"surrounding spaces", row(" 50 ", "\t60", "10 "), Accepted},
		{"negative zero", row("-0", "-0", "-0"), Accepted},
		{"extra fields", append(row("1", "2", "3"), "x", "y"), Accepted},

		{"cpu below", row("-0.1", "50", "1"), CPUOutOfRange},
		{"cpu above", row("100.1", "50", "1"), CPUOutOfRange},
		{"cpu way above", row("999", "1", "1"), CPUOutOfRange},
		{"cpu NaN", row("NaN", "50", "1"), CPUOutOfRange},
		{"cpu Inf", row("Inf", "50", "1"), CPUOutOfRange},
		{"ram below", row("50", "-0.1", "1"), RAMOutOfRange},
		{"ram above", row("50", "100.1", "1"), RAMOutOfRange},
		{"ram NaN", row("50", "NaN", "1"), RAMOutOfRange},
		{"disk negative", row("50", "50", "-0.1"), DiskOutOfRange},
		{"disk NaN", row("50", "50", "NaN"), DiskOutOfRange},

		{"cpu text", row("high", "50", "1"), MalformedNumber},
		{"ram empty", row("50", "", "1"), MalformedNumber},
		{"disk decimal comma", row("50", "50", "1,5"), MalformedNumber},
		{"overflow", row("1e400", "50", "1"), MalformedNumber},

		{"two fields", []string{"t3", "x"}, ShortRow},
		{"five fields", []string{"t", "h", "1", "2", "3"}, ShortRow},
		{"empty", nil, ShortRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckRow(tt.fields); got != tt.want {
				t.Errorf("CheckRow(%q) = %s, want %s", tt.fields, got, tt.want)
			}
		})
	}
}

func TestCheckRowOrderOfChecks(t *testing.T) {
	// Malformed numbers win over range violations on other fields.
	if got := CheckRow(row("999", "x", "1")); got != MalformedNumber {
		t.Errorf("expected %s, got %s", MalformedNumber, got)
	}
	// CPU is checked before RAM and disk.
	if got := CheckRow(row("101", "101", "-1")); got != CPUOutOfRange {
		t.Errorf("expected %s, got %s", CPUOutOfRange, got)
	}
}
