// Package config loads the switchboard configuration file.
//
// The file lists upstream server definitions, favorite tools and a legacy
// static tool registry:
//
//	servers:
//	  - id: github
//	    transport: stdio
//	    command: github-mcp
//	    env:
//	      GITHUB_TOKEN: "${vault:github#token}"
//	  - id: linear
//	    transport: streamable-http
//	    url: https://mcp.linear.app/mcp
//	    oauth:
//	      redirectURI: http://localhost:3000/callback
//	favorites:
//	  - name: create_issue
//	    server: github
//
// Env and header values may carry ${env:KEY} and ${vault:PATH}
// placeholders. This package only finds and substitutes them; resolving a
// placeholder to a value is done by the caller through Expand.
package config
