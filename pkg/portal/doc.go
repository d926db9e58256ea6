// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package portal describes the steps a browser-automation collaborator runs
against a municipal service-invoice portal.

This package does not drive a browser. It defines the step vocabulary, checks
scripts, and computes the values a step types into the page, so that the
collaborator only has to replay [ResolvedStep] values in order.

# Scripts

	scripts, err := portal.ParseScripts(yamlData)

	registry := portal.NewRegistry()
	for _, s := range scripts {
	    registry.Add(s)
	}

	steps, err := registry.Get("sao-paulo").Resolve(
	    portal.Period{Year: 2024, Month: time.January},
	    portal.Credentials{Username: "user", Password: "secret"},
	)

A script in YAML:

	# portals.yaml
	- id: sao-paulo
	  url: https://nfe.prefeitura.sp.gov.br
	  steps:
	    - {action: type_username, selector: "#login"}
	    - {action: type_password, selector: "#senha"}
	    - {action: click, selector: "#entrar"}
	    - {action: wait, millis: 1500}
	    - {action: fill_start_date, selector: "#inicio", format: dd/mm/yyyy}
	    - {action: fill_end_date, selector: "#fim", format: dd/mm/yyyy}

# Formats

Date values use one of [FormatDayMonthYear] (dd/mm/yyyy), [FormatISODate]
(yyyy-mm-dd), [FormatMonthYear] (mm/yyyy) or [FormatYearMonth] (yyyymm).
*/
package portal
