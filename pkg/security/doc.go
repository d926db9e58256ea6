// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the enveloped XML signature used by NF-e web services.

The profile is fixed by the remote validator and is not negotiable:

  - enveloped signature placed as the last child of the signed element
  - Canonical XML 1.0 without comments for SignedInfo and the reference
  - SHA-1 reference digest
  - RSA PKCS#1 v1.5 with SHA-1 signature
  - the signer certificate embedded in KeyInfo/X509Data/X509Certificate

# Signing

	signer, err := security.NewRSASigner(identity.PrivateKey, identity.Certificate, security.DistributionTarget)
	signed, err := signer.Sign(requestXML)
	// signed.XML is the request with <Signature> appended to distDFeInt
	// signed.Signature is the <Signature> block alone

The target element is located by tag name and namespace and receives the
reference identifier attribute (Id="DistDFeInt" for distribution requests).

# Verification

	err := security.VerifyEmbedded(signed.XML)

# References

  - XML Signature Syntax and Processing: https://www.w3.org/TR/xmldsig-core/
  - Canonical XML 1.0: https://www.w3.org/TR/2001/REC-xml-c14n-20010315
  - Manual de Orientação do Contribuinte NF-e, assinatura digital
*/
package security
