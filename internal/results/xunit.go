package results

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// XUnit is the Testing Farm results.xml document.
type XUnit struct {
	XMLName       xml.Name         `xml:"testsuites"`
	OverallResult string           `xml:"overall-result,attr"`
	Testsuites    []XUnitTestsuite `xml:"testsuite"`
}

type XUnitTestsuite struct {
	Name       string          `xml:"name,attr"`
	Result     string          `xml:"result,attr"`
	Tests      string          `xml:"tests,attr"`
	Properties []XUnitProperty `xml:"testing-environment>property"`
	Testcases  []XUnitTestcase `xml:"testcase"`
}

type XUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type XUnitTestcase struct {
	Name   string     `xml:"name,attr"`
	Result string     `xml:"result,attr"`
	Logs   []XUnitLog `xml:"logs>log"`
}

type XUnitLog struct {
	Name string `xml:"name,attr"`
	Href string `xml:"href,attr"`
}

// ParseXUnit decodes a results document. The root must carry an
// overall-result.
func ParseXUnit(data []byte) (*XUnit, error) {
	var x XUnit
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("parse xunit: %w", err)
	}
	if x.OverallResult == "" {
		return nil, fmt.Errorf("parse xunit: missing overall-result")
	}
	return &x, nil
}

// PipelineOnly reports whether the document describes nothing but the
// pipeline itself.
func (x *XUnit) PipelineOnly() bool {
	return len(x.Testsuites) == 1 && x.Testsuites[0].Name == "pipeline"
}

// ShortName drops the "<target>:" prefix older documents put in front of
// the plan name.
func (s XUnitTestsuite) ShortName() string {
	return s.Name[strings.LastIndex(s.Name, ":")+1:]
}

// Arch is the arch property of the testing environment, or the short name
// when there is none.
func (s XUnitTestsuite) Arch() string {
	for _, p := range s.Properties {
		if p.Name == "arch" {
			return p.Value
		}
	}
	return s.ShortName()
}

// LogURL is the href of the testout.log of the testcase.
func (c XUnitTestcase) LogURL() string {
	for _, l := range c.Logs {
		if l.Name == "testout.log" {
			return l.Href
		}
	}
	return ""
}
