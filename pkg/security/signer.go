// Package security implements RSA-SHA1 enveloped XML signatures for NF-e
package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"
)

// Algorithm identifiers of the NF-e signature profile
const (
	NamespaceDSig               = "http://www.w3.org/2000/09/xmldsig#"
	AlgorithmC14N10             = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgorithmEnvelopedSignature = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgorithmRSASHA1            = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgorithmSHA1               = "http://www.w3.org/2000/09/xmldsig#sha1"
)

// ReferenceIDAttribute is the attribute carrying the signed element's identifier
const ReferenceIDAttribute = "Id"

var (
	ErrSignatureTargetNotFound = errors.New("signature target element not found")
	ErrMalformedXML            = errors.New("XML fragment is not well-formed")
	ErrSigning                 = errors.New("signing failed")
)

// Target identifies the element to sign and the Id it receives
type Target struct {
	Space string
	Tag   string
	ID    string
}

// DistributionTarget is the signed element of a DistDFe request
var DistributionTarget = Target{
	Space: "http://www.portalfiscal.inf.br/nfe",
	Tag:   "distDFeInt",
	ID:    "DistDFeInt",
}

// SignedDocument is the output of a signing operation
type SignedDocument struct {
	// XML is the input fragment with the signature appended to the target
	XML string

	// Signature is the <Signature> element serialized on its own
	Signature string

	DigestValue    string
	SignatureValue string
}

// RSASigner produces enveloped RSA-SHA1 signatures.
// Uses signedxml library for canonicalization and signature operations.
type RSASigner struct {
	privateKey *rsa.PrivateKey
	cert       *x509.Certificate
	target     Target
}

// NewRSASigner creates a signer for the given target element
func NewRSASigner(privateKey *rsa.PrivateKey, cert *x509.Certificate, target Target) (*RSASigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("%w: private key is required", ErrSigning)
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: certificate is required", ErrSigning)
	}
	if _, ok := cert.PublicKey.(*rsa.PublicKey); !ok {
		return nil, fmt.Errorf("%w: certificate does not contain RSA public key", ErrSigning)
	}
	if target.Tag == "" || target.ID == "" {
		return nil, fmt.Errorf("%w: target tag and id are required", ErrSigning)
	}

	return &RSASigner{
		privateKey: privateKey,
		cert:       cert,
		target:     target,
	}, nil
}

// Sign appends an enveloped signature to the target element of fragment.
func (s *RSASigner) Sign(fragment string) (*SignedDocument, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(fragment); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedXML, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedXML)
	}

	target, err := findTarget(doc, s.target)
	if err != nil {
		return nil, err
	}

	target.CreateAttr(ReferenceIDAttribute, s.target.ID)
	s.appendSignatureTemplate(target)

	xmlStr, err := doc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write XML: %w", ErrSigning, err)
	}

	signer, err := signedxml.NewSigner(xmlStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create signer: %w", ErrSigning, err)
	}
	signer.SetReferenceIDAttribute(ReferenceIDAttribute)

	signedXML, err := signer.Sign(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	return extractSignature(signedXML, s.target)
}

// Verify validates a signed document against the signer's own certificate
func (s *RSASigner) Verify(signedXML string) error {
	return verify(signedXML, []x509.Certificate{*s.cert})
}

// VerifyEmbedded validates a signed document using the certificate embedded
// in its KeyInfo.
func VerifyEmbedded(signedXML string) error {
	return verify(signedXML, nil)
}

func verify(signedXML string, certs []x509.Certificate) error {
	validator, err := signedxml.NewValidator(signedXML)
	if err != nil {
		return fmt.Errorf("failed to create validator: %w", err)
	}
	validator.Certificates = append(validator.Certificates, certs...)
	validator.SetReferenceIDAttribute(ReferenceIDAttribute)

	if _, err := validator.ValidateReferences(); err != nil {
		return fmt.Errorf("signature validation failed: %w", err)
	}
	return nil
}

// appendSignatureTemplate adds the Signature skeleton that signedxml fills in.
func (s *RSASigner) appendSignatureTemplate(target *etree.Element) {
	sig := target.CreateElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDSig)

	signedInfo := sig.CreateElement("SignedInfo")
	signedInfo.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgorithmC14N10)
	signedInfo.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgorithmRSASHA1)

	ref := signedInfo.CreateElement("Reference")
	ref.CreateAttr("URI", "#"+s.target.ID)

	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgorithmEnvelopedSignature)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgorithmC14N10)

	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgorithmSHA1)
	// Placeholder - signedxml computes the digest during Sign()
	ref.CreateElement("DigestValue").SetText("placeholder")

	sig.CreateElement("SignatureValue").SetText("placeholder")

	x509Data := sig.CreateElement("KeyInfo").CreateElement("X509Data")
	x509Data.CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(s.cert.Raw))
}

// findTarget returns the single element matching target.
func findTarget(doc *etree.Document, target Target) (*etree.Element, error) {
	var matches []*etree.Element
	seen := make(map[*etree.Element]bool)
	candidates := append([]*etree.Element{doc.Root()}, doc.Root().FindElements("//"+target.Tag)...)
	for _, elem := range candidates {
		if seen[elem] || elem.Tag != target.Tag {
			continue
		}
		seen[elem] = true
		if target.Space != "" && elem.NamespaceURI() != target.Space {
			continue
		}
		matches = append(matches, elem)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: {%s}%s", ErrSignatureTargetNotFound, target.Space, target.Tag)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %d elements named {%s}%s", ErrSignatureTargetNotFound, len(matches), target.Space, target.Tag)
	}
}

func extractSignature(signedXML string, target Target) (*SignedDocument, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(signedXML); err != nil {
		return nil, fmt.Errorf("%w: failed to parse signed XML: %w", ErrSigning, err)
	}

	elem, err := findTarget(doc, target)
	if err != nil {
		return nil, err
	}
	sig := elem.SelectElement("Signature")
	if sig == nil {
		return nil, fmt.Errorf("%w: signature element missing from output", ErrSigning)
	}

	sigDoc := etree.NewDocument()
	sigDoc.SetRoot(sig.Copy())
	sigXML, err := sigDoc.WriteToString()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write signature: %w", ErrSigning, err)
	}

	out := &SignedDocument{
		XML:       signedXML,
		Signature: sigXML,
	}
	if dv := sig.FindElement("./SignedInfo/Reference/DigestValue"); dv != nil {
		out.DigestValue = dv.Text()
	}
	if sv := sig.SelectElement("SignatureValue"); sv != nil {
		out.SignatureValue = sv.Text()
	}
	return out, nil
}
