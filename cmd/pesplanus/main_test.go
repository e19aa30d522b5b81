package main

import (
	"path/filepath"
	"testing"

	"pesplanus/pkg/geometry"
)

func TestParsePoints(t *testing.T) {
	tests := []struct {
		in      string
		want    []geometry.Point
		wantErr bool
	}{
		{"", nil, false},
		{"10,20", []geometry.Point{geometry.Pt(10, 20)}, false},
		{" 0, 90.5 ,200,90 ", []geometry.Point{geometry.Pt(0, 90.5), geometry.Pt(200, 90)}, false},
		{"1,2,3", nil, true},
		{"a,b", nil, true},
	}

	for _, tt := range tests {
		got, err := parsePoints(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePoints(%q): unexpected error state %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parsePoints(%q): expected %v, got %v", tt.in, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parsePoints(%q): expected %v, got %v", tt.in, tt.want, got)
			}
		}
	}
}

func TestReportLinks(t *testing.T) {
	images := map[string]string{
		"/data/JOHN DOE_12345/IM0001.dcm": filepath.Join("out", "annotated", "John_Doe_12345_IM0001_annotated.jpg"),
		"/data/JANE ROE_67890/IM0001.dcm": filepath.Join("out", "annotated", "Jane_Roe_67890_IM0001_annotated.jpg"),
	}
	links := reportLinks(filepath.Join("out", "report.xlsx"), images)

	want := map[string]string{
		"/data/JOHN DOE_12345/IM0001.dcm": "annotated/John_Doe_12345_IM0001_annotated.jpg",
		"/data/JANE ROE_67890/IM0001.dcm": "annotated/Jane_Roe_67890_IM0001_annotated.jpg",
	}
	for study, link := range want {
		if links[study] != link {
			t.Errorf("Expected link %s for %s, got %s", link, study, links[study])
		}
	}
}
