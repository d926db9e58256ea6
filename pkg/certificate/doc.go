// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package certificate reads ICP-Brasil A1 certificates from PKCS#12 containers.

An A1 certificate is distributed as a password-protected PKCS#12 file holding
one RSA private key and its X.509 certificate, optionally followed by the
issuing CA chain. [Read] decodes the container and returns an [Identity] that
carries everything the distribution client needs:

  - the RSA private key used for XML signatures
  - the DER certificate embedded in ds:X509Certificate
  - a PEM rendering and a [tls.Certificate] for mutual TLS
  - subject attributes, serial number and validity window
  - the holder's tax ID (CNPJ or CPF) from the ICP-Brasil otherName SAN

# Reading a container

	identity, err := certificate.Read(pfxData, password)
	if err != nil {
	    // errors.Is(err, certificate.ErrIncorrectPassword) ...
	}
	if identity.IsExpired(time.Now()) {
	    // reject before any network use
	}

Reading never checks expiry; callers decide whether an identity is usable.

# References

  - PKCS #12 RFC 7292: https://datatracker.ietf.org/doc/html/rfc7292
  - ICP-Brasil DOC-ICP-04 (certificate profile and otherName OIDs)
*/
package certificate
