package device

import (
	"testing"
	"time"
)

func TestValidIPv4(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.2.64", true},
		{"0.0.0.0", true},
		{"255.255.255.255", true},
		{"10.0.0.1", true},
		{"256.1.1.1", false},
		{"1.1.1", false},
		{"1.1.1.1.1", false},
		{"1.1.1.-1", false},
		{"a.b.c.d", false},
		{"", false},
		{"192.168..1", false},
		{"1234.1.1.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := ValidIPv4(tt.ip); got != tt.want {
				t.Errorf("ValidIPv4(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF", false},
		{"AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF", false},
		{"aa.bb.cc.dd.ee.ff", "AA:BB:CC:DD:EE:FF", false},
		{"AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF", false},
		{"aa:bb:cc:dd:ee", "", true},
		{"aa:bb:cc:dd:ee:ff:00", "", true},
		{"gg:bb:cc:dd:ee:ff", "", true},
		{"aabbccddeeff", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMAC(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NormalizeMAC(%q) should have failed", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeMAC(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeMAC(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeMACIdempotent(t *testing.T) {
	once, err := NormalizeMAC("aa-bb-cc-dd-ee-ff")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := NormalizeMAC(once)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Errorf("normalise not idempotent: %q vs %q", once, twice)
	}
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		tag     string
		want    Family
		wantErr bool
	}{
		{"optoma_telnet", FamilyASCIILine, false},
		{"barco_jsonrpc", FamilyJSONRPC, false},
		{"cubes_custom", FamilySemicolonTCP, false},
		{"generic_tcp", FamilySemicolonTCP, false},
		{"exposition_pc", FamilyPassivePC, false},
		{"projector", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ParseFamily(tt.tag)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFamily(%q) should have failed", tt.tag)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFamily(%q): %v", tt.tag, err)
			}
			if got != tt.want {
				t.Errorf("ParseFamily(%q) = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestEffectivePort(t *testing.T) {
	tests := []struct {
		family Family
		port   int
		want   int
	}{
		{FamilyASCIILine, 0, 23},
		{FamilyJSONRPC, 0, 9090},
		{FamilySemicolonTCP, 0, 7992},
		{FamilyPassivePC, 0, 0},
		{FamilyASCIILine, 4023, 4023},
	}
	for _, tt := range tests {
		d := &Device{Family: tt.family, Port: tt.port}
		if got := d.EffectivePort(); got != tt.want {
			t.Errorf("%s port=%d: EffectivePort() = %d, want %d", tt.family, tt.port, got, tt.want)
		}
	}
}

func TestDeviceValidate(t *testing.T) {
	d := &Device{ID: "proj-1", IP: "192.168.2.64", Family: FamilyASCIILine, MAC: "aa-bb-cc-dd-ee-ff"}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
	if d.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC not normalised: %q", d.MAC)
	}
	if d.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want default %v", d.Timeout, DefaultTimeout)
	}

	bad := []Device{
		{ID: "", IP: "1.2.3.4", Family: FamilyPassivePC},
		{ID: "x", IP: "1.2.3", Family: FamilyPassivePC},
		{ID: "x", IP: "1.2.3.4", Family: FamilyPassivePC, Port: 70000},
		{ID: "x", IP: "1.2.3.4", Family: FamilyPassivePC, MAC: "nope"},
		{ID: "x", IP: "1.2.3.4", Family: "serial-over-avian"},
		{ID: "x", IP: "1.2.3.4"},
	}
	for i, b := range bad {
		if err := b.Validate(); err == nil {
			t.Errorf("case %d: Validate() should have failed", i)
		}
	}

	keep := &Device{ID: "x", IP: "1.2.3.4", Family: FamilyJSONRPC, Timeout: 3 * time.Second}
	if err := keep.Validate(); err != nil {
		t.Fatal(err)
	}
	if keep.Timeout != 3*time.Second {
		t.Errorf("explicit timeout overwritten: %v", keep.Timeout)
	}
}
