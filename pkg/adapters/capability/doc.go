// Package capability provides execution capability implementations.
//
// The factory creates capabilities based on provider configuration.
// Currently supports:
//   - Anthropic Claude
package capability
