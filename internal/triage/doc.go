// Package triage provides the business boundary for casewise's ticket triage
// pipeline. It defines the Engine (four sequential stages: identifier
// extraction, log retrieval, document retrieval, model synthesis), the
// accumulated State and its Merge rule, the Provider interface for language
// models, and the Service entry point used by the HTTP layer.
package triage
