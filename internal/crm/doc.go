// Package crm is the HTTP client for the line-of-business CRM API that the
// agent's tools and workflows act upon.
package crm
