// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package dfe is the NF-e distribution client.

A [Client] runs one distribution call end to end: it reads the holder's
PKCS#12 certificate, builds and signs the distDFeInt request, posts it over
mutual TLS and decodes the response.

# Usage

	client, err := dfe.NewClient(dfe.DefaultConfig())
	if err != nil {
	    log.Fatal(err)
	}

	result, err := client.FetchDocuments(ctx, &dfe.FetchRequest{
	    Certificate:  pfx,
	    Password:     password,
	    TaxID:        "12.345.678/0001-99",
	    Jurisdiction: "35",
	    LastNSU:      lastNSU,
	})
	if err != nil {
	    switch dfe.KindOf(err) {
	    case dfe.KindExpiredCertificate:
	        // renew the certificate
	    case dfe.KindTransport:
	        // retry later
	    }
	}

To page through a backlog, read the certificate once and call [Client.Fetch]
with the same [*certificate.Identity] until [distribution.Result.HasMore]
reports false.

# Errors

Every failure is an [*Error] whose [Kind] tells which stage failed. The
original cause stays reachable through errors.Is and errors.As.

An expired certificate is rejected before any network I/O. A response with a
non-2xx status but a decodable body is not an error: the service reports
rejections in-band through cStat and xMotivo.

# Concurrency

A Client holds no per-call state and may be shared. Each call opens and
closes its own TLS connection. Successive calls for the same tax ID should be
serialized by the caller when cursor order matters.
*/
package dfe
