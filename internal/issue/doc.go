// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors for the CLI.
//
// ActionableError carries an operation, a resource and remediation
// suggestions. The catalog in this package holds long-form Markdown guidance
// for recurring failures, rendered in the terminal with glamour and linked
// from an ActionableError through its IssueID.
package issue
