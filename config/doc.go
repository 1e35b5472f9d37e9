// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package config loads the caademo configuration from a YAML file and CAA_
environment variables, validates it, and builds the demo's chains and mock
resource APIs from it.

A minimal configuration:

	server:
	  base_url: http://localhost:8080
	session:
	  hash_key: <base64, at least 32 bytes>
	  block_key: <base64, 16, 24 or 32 bytes>
	okta:
	  issuer: https://example.okta.com
	  client_id: 0oa1example
	resources:
	  - name: hr
	    steps:
	      - kind: id-jag
	        audience: https://hr.example.com
	        scopes: [employees.read]
	      - kind: jwt-bearer
	        token_url: https://hr.example.com/oauth2/token
	        client:
	          client_id: hr-client
	          client_secret: <secret>
	    api:
	      url: https://hr.example.com/hr/employees

Secrets are usually supplied through the environment, e.g.
CAA_OKTA_CLIENT_SECRET or CAA_SESSION_HASH_KEY.
*/
package config
