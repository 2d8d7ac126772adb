package model

import (
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in   string
		want Period
		ok   bool
	}{
		{"2019-01", Period{2019, time.January}, true},
		{"2024-12", Period{2024, time.December}, true},
		{"2019-13", Period{}, false},
		{"2019-00", Period{}, false},
		{"2019-1", Period{}, false},
		{"201901", Period{}, false},
		{"", Period{}, false},
	}
	for _, c := range cases {
		got, err := ParsePeriod(c.in)
		if c.ok != (err == nil) {
			t.Errorf("ParsePeriod(%q) err = %v, want ok=%v", c.in, err, c.ok)
			continue
		}
		if c.ok && got != c.want {
			t.Errorf("ParsePeriod(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestPeriodRoundTrip(t *testing.T) {
	p := Period{2019, time.July}
	got, err := ParsePeriod(p.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("round trip = %v, want %v", got, p)
	}
}

func TestPeriodRange(t *testing.T) {
	got := PeriodRange(Period{2019, time.November}, Period{2020, time.February})
	want := []Period{
		{2019, time.November},
		{2019, time.December},
		{2020, time.January},
		{2020, time.February},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d periods, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("period %d = %v, want %v", i, got[i], want[i])
		}
	}

	single := PeriodRange(Period{2019, time.March}, Period{2019, time.March})
	if len(single) != 1 || single[0] != (Period{2019, time.March}) {
		t.Errorf("single-month range = %v", single)
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory("yellow"); err != nil || c != CategoryYellow {
		t.Errorf("ParseCategory(yellow) = %v, %v", c, err)
	}
	if c, err := ParseCategory("green"); err != nil || c != CategoryGreen {
		t.Errorf("ParseCategory(green) = %v, %v", c, err)
	}
	if _, err := ParseCategory("fhv"); err == nil {
		t.Error("ParseCategory(fhv) should fail")
	}
}

func TestNaturalKeyStrings(t *testing.T) {
	vendor := int32(2)
	pu := int32(138)
	r := TripRecord{
		VendorID:     &vendor,
		PickupTime:   time.Date(2019, 7, 1, 0, 15, 30, 0, time.UTC),
		PULocationID: &pu,
	}
	got := r.NaturalKeyStrings()
	want := [5]string{"2", "2019-07-01 00:15:30", "", "138", ""}
	if got != want {
		t.Fatalf("NaturalKeyStrings = %v, want %v", got, want)
	}
}

func TestTimeStringConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	local := time.Date(2019, 7, 1, 0, 15, 30, 0, loc)
	if got := TimeString(local); got != "2019-07-01 05:15:30" {
		t.Fatalf("TimeString = %q", got)
	}
}
