// Package api exposes the REST surface for uploading datasets, asking
// questions against the analysis engine, submitting asynchronous queries and
// browsing the recorded interaction history.
package api
