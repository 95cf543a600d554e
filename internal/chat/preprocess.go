// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "strings"

// prefixSeparator joins the configured prefix to the typed text. The
// transformation must stay reversible so the UI can show what the user
// actually wrote.
const prefixSeparator = "\n\n"

// ApplyPrefix prepends prefix to text. An empty prefix returns text
// unchanged.
func ApplyPrefix(prefix, text string) string {
	if strings.TrimSpace(prefix) == "" {
		return text
	}
	return prefix + prefixSeparator + text
}

// StripPrefix undoes ApplyPrefix. Content that does not carry the
// prefix is returned unchanged.
func StripPrefix(prefix, stored string) string {
	if strings.TrimSpace(prefix) == "" {
		return stored
	}
	if rest, ok := strings.CutPrefix(stored, prefix+prefixSeparator); ok {
		return rest
	}
	return stored
}
