// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package message builds NF-e distribution (DistDFe) requests and their SOAP envelopes.

A distribution query asks the national environment for every fiscal document
issued against a tax ID after a sequence cursor (NSU), or for one document by
its 44-digit access key. The two modes are mutually exclusive.

# Building a request

	query := &message.DistributionQuery{
	    Environment:  message.EnvironmentProduction,
	    Jurisdiction: "35",
	    TaxID:        "12.345.678/0001-99",
	    LastNSU:      0,
	}
	fragment, err := message.BuildQuery(query)
	// <distDFeInt xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">
	//   <tpAmb>1</tpAmb><cUFAutor>35</cUFAutor><CNPJ>12345678000199</CNPJ>
	//   <distNSU><ultNSU>000000000000000</ultNSU></distNSU>
	// </distDFeInt>

The fragment is signed (see package security) and then wrapped:

	envelope := message.WrapEnvelope(signed.XML)

WrapEnvelope performs no validation; it only places the signed fragment
inside nfeDadosMsg of a SOAP 1.2 envelope.

# References

  - NT 2014.002 NF-e Distribuição DF-e de Interesse dos Atores
  - SOAP 1.2: https://www.w3.org/TR/soap12-part1/
*/
package message
