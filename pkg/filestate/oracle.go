// Copyright 2025 Ziya Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filestate tracks which codebase files have changed per
// conversation since the model last saw them. The context splitter uses
// this oracle as its only change signal; it never hashes file contents
// itself.
package filestate

// FileContent is one file's rendered body, ready for the prompt.
type FileContent struct {
	Path    string
	Content string

	// Changed reports whether the file differs from what was last
	// submitted for this conversation.
	Changed bool
}

// ContextReport is the oracle's answer for one prompt assembly: the file
// bodies in selection order plus change summaries.
type ContextReport struct {
	Files []FileContent

	// OverallChanges summarizes everything that changed since the
	// conversation first saw the codebase. Empty when nothing changed.
	OverallChanges string

	// RecentChanges summarizes changes since the previous submission.
	RecentChanges string
}

// Oracle is the file-state contract the prompt pipeline consumes.
// Operations are atomic and idempotent; Changed answers strictly from the
// state recorded at the last MarkContextSubmission.
type Oracle interface {
	// AnnotatedContent reads the files and records their current hashes
	// as pending for the conversation.
	AnnotatedContent(conversationID string, paths []string) (*ContextReport, error)

	// Changed reports whether a file's current content differs from the
	// last submission for this conversation. Files never submitted
	// count as changed.
	Changed(conversationID, path string) bool

	// MarkContextSubmission promotes the pending hashes recorded by the
	// latest AnnotatedContent call to submitted state. The loop calls it
	// exactly once, after a fully successful stream.
	MarkContextSubmission(conversationID string)
}
