// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package distribution decodes NF-e distribution (DistDFe) responses.

A response carries a status, two pagination cursors and, when documents were
found, a batch of compressed items. Each item is classified by its schema
into one of three record kinds:

  - [*Summary]: an NF-e summary (resNFe) with issuer and value fields
  - [*FullDocument]: a complete authorized NF-e (procNFe / nfeProc)
  - [*EventSummary]: an event (resEvento, procEventoNFe)

# Decoding

	decoder := distribution.NewDecoder(logger)
	result, err := decoder.Decode(body)
	if err != nil {
	    // the body was not a distribution response
	}

	for _, doc := range result.Documents {
	    switch d := doc.(type) {
	    case *distribution.Summary:
	        fmt.Println(d.AccessKey, d.Value)
	    case *distribution.FullDocument:
	        store(d.XML)
	    case *distribution.EventSummary:
	        fmt.Println(d.EventType, d.Description)
	    }
	}

	if result.HasMore() {
	    // query again from result.LastNSU
	}

An item that cannot be decompressed or parsed is logged and left out of
[Result.Documents]; the rest of the batch is still returned. Only a body that
is not a distribution response at all yields an error.

Documents keep the order in which the service sent them, which is ascending
NSU order.
*/
package distribution
