// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the mutual-TLS HTTPS transport for NF-e web services.

Every call opens its own connection presenting the caller's certificate as
the TLS client credential. Connections are never pooled: the client
certificate is a property of the connection, and different calls may use
different certificates.

# Client Usage

	client := transport.NewHTTPSClient(&transport.HTTPSConfig{
	    MinTLSVersion:    transport.TLS12,
	    Timeout:          30 * time.Second,
	    MaxResponseBytes: 50 << 20,
	    SOAPAction:       message.SOAPAction,
	})

	resp, err := client.Send(ctx, endpoint, identity.TLSCertificate(), envelope)

A non-2xx response that carries a body is returned as a normal [Response]:
the web services report structured errors inside SOAP faults. An [*Error]
is returned only when no body could be obtained (DNS, refused connection,
TLS failure, timeout, oversized response).

# Server certificate trust

NF-e endpoints present chains rooted in ICP-Brasil, which is absent from most
system trust stores. [HTTPSConfig.InsecureSkipVerify] turns off peer
verification for such endpoints; prefer supplying the ICP-Brasil roots in
[HTTPSConfig.RootCAs] instead.

# References

  - TLS 1.3 RFC 8446: https://datatracker.ietf.org/doc/html/rfc8446
  - TLS 1.2 RFC 5246: https://datatracker.ietf.org/doc/html/rfc5246
*/
package transport
