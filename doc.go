// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package godfe is a client for the Brazilian NF-e document distribution
service (NFeDistribuicaoDFe).

# Overview

go-dfe lets a company holding an ICP-Brasil A1 certificate retrieve the
electronic invoices (NF-e), summaries and events addressed to its tax ID.
A request is a distDFeInt document signed with XML-DSig (RSA-SHA1, C14N 1.0),
wrapped in a SOAP 1.2 envelope and posted over mutual TLS. The response
carries compressed document payloads which are decoded into typed records.

Distribution is cursor based: each company tracks the last NSU it has seen
and asks for everything after it, one page of up to 50 documents per call.

# Package Structure

	github.com/sirosfoundation/go-dfe/pkg/certificate  - PKCS#12 loading and certificate metadata
	github.com/sirosfoundation/go-dfe/pkg/message      - distDFeInt query and SOAP envelope
	github.com/sirosfoundation/go-dfe/pkg/security     - Enveloped XML signatures
	github.com/sirosfoundation/go-dfe/pkg/transport    - HTTPS with client certificates
	github.com/sirosfoundation/go-dfe/pkg/compression  - Deflate and GZIP payload handling
	github.com/sirosfoundation/go-dfe/pkg/distribution - Response decoding
	github.com/sirosfoundation/go-dfe/pkg/dfe          - High level distribution client
	github.com/sirosfoundation/go-dfe/pkg/portal       - Municipal portal scripts

The godfe command (cmd/godfe) exposes the client as a CLI and as an HTTP
service with background synchronization.

# Quick Start

	import "github.com/sirosfoundation/go-dfe/pkg/dfe"

	client, err := dfe.NewClient(dfe.DefaultConfig())
	if err != nil {
	    return err
	}

	result, err := client.FetchDocuments(ctx, &dfe.FetchRequest{
	    Certificate:  pfx,
	    Password:     password,
	    TaxID:        "12345678000199",
	    Jurisdiction: "35",
	    LastNSU:      0,
	})
	if err != nil {
	    return err
	}
	for _, doc := range result.Documents {
	    fmt.Println(doc.Meta().NSU, doc.Key())
	}

Keep calling with result.LastNSU while result.HasMore reports true.

# References

  - Portal da NF-e: https://www.nfe.fazenda.gov.br/
  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core/

# License

BSD-2-Clause License
*/
package godfe
