// Package httputil provides JSON response and request helpers shared by the
// HTTP handlers.
//
// Every error response has the shape {"error": "<reason>"} with an optional
// "redirect". WriteErr maps an error onto its reason with auth.ReasonOf and
// onto a status with StatusFor:
//
//	if err != nil {
//		httputil.WriteErr(w, r, err)
//		return
//	}
//
// Request bodies are decoded strictly:
//
//	var req createOrgRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
package httputil
