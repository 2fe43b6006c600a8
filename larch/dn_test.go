package larch

import (
	"testing"
)

func TestDNCasefold(t *testing.T) {
	s := NewSchema()

	cases := []struct {
		in   string
		want string
	}{
		{"cn=Alice,dc=Example", "CN=ALICE,DC=EXAMPLE"},
		{"CN=ALICE,DC=EXAMPLE", "CN=ALICE,DC=EXAMPLE"},
		{"cn=a, dc=x", "CN=A,DC=X"},
		{"@BASEINFO", "@BASEINFO"},
		{"@INDEX:cn:Mixed", "@INDEX:cn:Mixed"},
	}
	for _, c := range cases {
		got, err := NewDN(c.in).Casefold(s)
		if err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("%s: expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestDNCasefoldInvalid(t *testing.T) {
	s := NewSchema()

	if _, err := NewDN("no-equals").Casefold(s); err == nil {
		t.Error("expected error folding invalid DN")
	}
	if _, err := NewDN("").Casefold(s); err == nil {
		t.Error("expected error folding empty DN")
	}
}

func TestDNSpecial(t *testing.T) {
	cases := []struct {
		dn      string
		special bool
	}{
		{"@BASEINFO", true},
		{"@INDEX:cn:A", true},
		{"cn=a,dc=x", false},
		{"", false},
	}
	for _, c := range cases {
		if got := NewDN(c.dn).IsSpecial(); got != c.special {
			t.Errorf("%q: expected special=%v, got %v", c.dn, c.special, got)
		}
	}

	if !NewDN("@INDEX:cn:A").CheckSpecial(IndexDNPrefix) {
		t.Error("expected @INDEX prefix match")
	}
	if NewDN("@INDEXLIST").CheckSpecial(IndexDNPrefix) {
		t.Error("@INDEXLIST must not match the @INDEX: prefix")
	}
	if NewDN("cn=a").CheckSpecial(BaseInfoDN) {
		t.Error("regular DN matched a special name")
	}
}

func TestDNParent(t *testing.T) {
	cases := []struct {
		dn     string
		parent string
	}{
		{"cn=a,ou=people,dc=x", "ou=people,dc=x"},
		{"ou=people,dc=x", "dc=x"},
		{"dc=x", ""},
		{"@BASEINFO", ""},
	}
	for _, c := range cases {
		p := NewDN(c.dn).Parent()
		if c.parent == "" {
			if p != nil {
				t.Errorf("%s: expected no parent, got %s", c.dn, p)
			}
			continue
		}
		if p == nil || p.String() != c.parent {
			t.Errorf("%s: expected parent %q, got %v", c.dn, c.parent, p)
		}
	}
}

func TestDNEqual(t *testing.T) {
	s := NewSchema()

	if !NewDN("cn=a,dc=x").Equal(s, NewDN("CN=A,DC=X")) {
		t.Error("case variants should be equal")
	}
	if NewDN("cn=a,dc=x").Equal(s, NewDN("cn=b,dc=x")) {
		t.Error("distinct DNs compared equal")
	}
	if !NewDN("@BASEINFO").Equal(s, NewDN("@BASEINFO")) {
		t.Error("identical special DNs should be equal")
	}
}

func TestDNComponents(t *testing.T) {
	comps := NewDN("cn=a,ou=people,dc=x").Components()
	want := []RDN{{"cn", "a"}, {"ou", "people"}, {"dc", "x"}}
	if len(comps) != len(want) {
		t.Fatalf("expected %d components, got %d", len(want), len(comps))
	}
	for i := range want {
		if comps[i] != want[i] {
			t.Errorf("component %d: expected %v, got %v", i, want[i], comps[i])
		}
	}

	if NewDN("@BASEINFO").Components() != nil {
		t.Error("special DN should have no components")
	}
}
