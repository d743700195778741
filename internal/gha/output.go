/*
Copyright 2025 PreviewOps, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gha

import (
	"fmt"
	"os"
	"strings"

	"github.com/gravitational/trace"
)

// Outputs are the step output parameters consumed by downstream workflow
// steps. Empty values are skipped.
type Outputs struct {
	Name     string
	Hostname string
	URL      string
	ID       string
	Message  string
}

// Write appends the outputs to the GITHUB_OUTPUT file at path, one
// key=value per line. The file is appended to, not truncated, so outputs
// written by earlier steps survive.
func (o Outputs) Write(path string) error {
	pairs := [][2]string{
		{"name", o.Name},
		{"hostname", o.Hostname},
		{"url", o.URL},
		{"id", o.ID},
		{"message", o.Message},
	}

	var b strings.Builder
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
	}

	return trace.Wrap(appendFile(path, b.String()))
}

// WriteStepSummary appends markdown to the workflow step summary at path.
func WriteStepSummary(path, markdown string) error {
	if !strings.HasSuffix(markdown, "\n") {
		markdown += "\n"
	}
	return trace.Wrap(appendFile(path, markdown))
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(content)
	return trace.NewAggregate(werr, f.Close())
}
