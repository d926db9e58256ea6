package message

import (
	"encoding/xml"
	"fmt"
)

// Namespaces and protocol identifiers of the DistDFe web service
const (
	NamespaceNFe     = "http://www.portalfiscal.inf.br/nfe"
	NamespaceDistDFe = "http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe"
	NamespaceSOAP12  = "http://www.w3.org/2003/05/soap-envelope"

	// Version is the layout version of distDFeInt
	Version = "1.01"

	SOAPAction  = NamespaceDistDFe + "/nfeDistDFeInteresse"
	ContentType = "application/soap+xml; charset=utf-8"
)

// Web service endpoints of the national environment (Ambiente Nacional)
const (
	EndpointProduction   = "https://www1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx"
	EndpointHomologation = "https://hom1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx"
)

// Environment is the tpAmb flag
type Environment int

const (
	EnvironmentProduction   Environment = 1
	EnvironmentHomologation Environment = 2
)

// String returns the configuration name of the environment
func (e Environment) String() string {
	switch e {
	case EnvironmentProduction:
		return "production"
	case EnvironmentHomologation:
		return "homologation"
	default:
		return fmt.Sprintf("Environment(%d)", int(e))
	}
}

// Valid reports whether e is a tpAmb value the service accepts
func (e Environment) Valid() bool {
	return e == EnvironmentProduction || e == EnvironmentHomologation
}

// Endpoint returns the default web service URL of the environment
func (e Environment) Endpoint() string {
	if e == EnvironmentHomologation {
		return EndpointHomologation
	}
	return EndpointProduction
}

// ParseEnvironment accepts "production"/"producao"/"1" and "homologation"/"homologacao"/"2".
func ParseEnvironment(s string) (Environment, error) {
	switch s {
	case "production", "producao", "1", "":
		return EnvironmentProduction, nil
	case "homologation", "homologacao", "staging", "2":
		return EnvironmentHomologation, nil
	default:
		return 0, fmt.Errorf("unknown environment %q", s)
	}
}

// DistDFeInt is the distribution request root element
type DistDFeInt struct {
	XMLName   xml.Name   `xml:"distDFeInt"`
	Xmlns     string     `xml:"xmlns,attr"`
	Versao    string     `xml:"versao,attr"`
	TpAmb     int        `xml:"tpAmb"`
	CUFAutor  string     `xml:"cUFAutor,omitempty"`
	CNPJ      string     `xml:"CNPJ,omitempty"`
	CPF       string     `xml:"CPF,omitempty"`
	DistNSU   *DistNSU   `xml:"distNSU,omitempty"`
	ConsChNFe *ConsChNFe `xml:"consChNFe,omitempty"`
}

// DistNSU selects documents after the last received NSU
type DistNSU struct {
	UltNSU string `xml:"ultNSU"`
}

// ConsChNFe selects a single document by access key
type ConsChNFe struct {
	ChNFe string `xml:"chNFe"`
}
