// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package resource serves mock enterprise resource APIs, the final hop of a
cross app access chain.  Each API is protected either by bearer access
tokens, verified against the authorization server's JWKS, or by the basic
credentials a vaulted secret or service account exchange hands out.

	hr, _ := jwt.NewValidator(keySet, jwt.Expected{Issuer: iss, Audiences: []string{"api://hr"}})
	srv, _ := resource.NewServer([]resource.API{
		{Name: "hr", Path: "/hr/employees", Validator: hr, Data: resource.HREmployees()},
		{Name: "kpi", Path: "/kpi/metrics", Username: "svc", Password: pw, Data: resource.KPIMetrics()},
	})
	http.ListenAndServe(":9090", srv.Handler())
*/
package resource
