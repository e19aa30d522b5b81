package models

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pesplanus/pkg/angle"
	"pesplanus/pkg/geometry"
	"pesplanus/pkg/imaging"
)

// Status is the processing state of a study in a batch
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Side is the foot shown in a radiograph
type Side string

const (
	SideUnknown Side = ""
	SideLeft    Side = "L"
	SideRight   Side = "R"
)

// UnknownID marks a study whose patient ID could not be determined
const UnknownID = "?"

// Study represents one radiograph and its measurement
type Study struct {
	// Path is the image file path
	Path string

	// Filename is the base name of Path
	Filename string

	// PatientName and PatientID come from the folder structure or the
	// DICOM header
	PatientName string
	PatientID   string

	// Side is the examined foot
	Side Side

	// Status is the processing state
	Status Status

	// Result holds the angle, diagnosis and both lines once measured
	Result *angle.Result

	// Heel is the detected heel keypoint, if any
	Heel *geometry.Point

	// VirtualGround reports that the ground line was placed at the heel
	// because none was detected
	VirtualGround bool

	// Confirmed is set when the lines were placed or reviewed by hand
	Confirmed bool

	// Error is the user-facing failure message for failed studies
	Error string

	// Metadata is the image file metadata
	Metadata imaging.Metadata
}

// NewStudy creates a pending study for an image file, guessing the patient
// and side from its path.
func NewStudy(path string) *Study {
	name, id, side := ParseStudyPath(path)
	return &Study{
		Path:        path,
		Filename:    filepath.Base(path),
		PatientName: name,
		PatientID:   id,
		Side:        side,
		Status:      StatusPending,
	}
}

// Angle returns the measured angle, 0 when not measured.
func (s *Study) Angle() float64 {
	if s.Result == nil {
		return 0
	}
	return s.Result.AngleDegrees
}

// Diagnosis returns the diagnosis label, empty when not measured.
func (s *Study) Diagnosis() string {
	if s.Result == nil {
		return ""
	}
	return s.Result.Diagnosis.Label()
}

// ApplyMetadata records the image metadata and fills the patient fields
// from the DICOM header when the path did not provide them.
func (s *Study) ApplyMetadata(meta imaging.Metadata) {
	s.Metadata = meta
	if s.PatientID == UnknownID && meta.PatientID != "" {
		s.PatientID = meta.PatientID
		if meta.PatientName != "" {
			s.PatientName = titleName(meta.PatientName)
		}
	}
}

// protocolKeywords are words of acquisition protocol folder names, e.g.
// "AYAK_BASARAK_2_YON_12345", which share the NAME_ID shape of patient
// folders.
var protocolKeywords = map[string]bool{
	"AYAK": true, "BASARAK": true, "YON": true, "VIEW": true, "LAT": true,
	"AP": true, "SAG": true, "SOL": true, "RIGHT": true, "LEFT": true,
	"TEST": true, "STUDY": true, "SERIES": true,
}

var patientFolder = regexp.MustCompile(`^(.+)_(\d{5,})$`)

// ParseStudyPath guesses patient name, patient ID and side from an image
// path laid out as .../NAME SURNAME_ID/.../file.
//
// Parent folders are checked from the file upward for a NAME_ID pattern
// (ID of at least five digits); folders whose name part contains a protocol
// keyword are skipped. Without a match the name comes from the file name,
// or from the parent folder when the file name is numeric or very short,
// and the ID is UnknownID.
func ParseStudyPath(path string) (name, id string, side Side) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	dirs := parts[:len(parts)-1]

	for i := len(dirs) - 1; i >= 0; i-- {
		part := strings.TrimSpace(strings.ReplaceAll(dirs[i], "^", " "))
		match := patientFolder.FindStringSubmatch(part)
		if match == nil {
			continue
		}
		if hasProtocolKeyword(match[1]) {
			continue
		}
		name, id = titleName(match[1]), match[2]
		break
	}

	if id == "" {
		file := parts[len(parts)-1]
		cand := strings.TrimSuffix(file, filepath.Ext(file))
		if (isDigits(cand) || len([]rune(cand)) < 3) && len(dirs) > 0 {
			cand = dirs[len(dirs)-1]
		}
		name, id = titleName(cand), UnknownID
	}

	return name, id, detectSide(path)
}

// detectSide looks for L/R markers among the words of the path.
func detectSide(path string) Side {
	words := splitWords(strings.ToUpper(path))
	for i := len(words) - 1; i >= 0; i-- {
		switch words[i] {
		case "L", "LEFT", "SOL":
			return SideLeft
		case "R", "RIGHT", "SAG", "SAĞ":
			return SideRight
		}
	}
	return SideUnknown
}

func hasProtocolKeyword(s string) bool {
	for _, w := range splitWords(strings.ToUpper(s)) {
		if protocolKeywords[w] {
			return true
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// titleName normalizes DICOM style names ("DOE^JOHN") and folder names
// ("JANE_SMITH") to title case with single spaces.
func titleName(s string) string {
	s = strings.NewReplacer("^", " ", "_", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Title(language.Und).String(s)
}

var sideOrder = map[Side]int{SideRight: 0, SideLeft: 1, SideUnknown: 2}

// SortStudies orders studies for reporting: by patient name, then patient
// ID, then right foot before left, then file name.
func SortStudies(studies []*Study) {
	sort.SliceStable(studies, func(i, j int) bool {
		a, b := studies[i], studies[j]
		if a.PatientName != b.PatientName {
			return a.PatientName < b.PatientName
		}
		if a.PatientID != b.PatientID {
			return a.PatientID < b.PatientID
		}
		if sideOrder[a.Side] != sideOrder[b.Side] {
			return sideOrder[a.Side] < sideOrder[b.Side]
		}
		return a.Filename < b.Filename
	})
}
