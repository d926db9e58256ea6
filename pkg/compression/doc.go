// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression inflates and deflates distributed document payloads.

Documents returned by the distribution service travel as base64 text holding
a compressed XML document. Most services use raw DEFLATE (RFC 1951); some
wrap the stream in GZIP (RFC 1952). [Compressor.Decompress] detects the GZIP
magic bytes and picks the right reader.

# Decompression

	compressor := compression.NewCompressor()
	xml, err := compressor.DecodeBase64(docZip)

Output is bounded by [Compressor.MaxSize] so a hostile payload cannot expand
without limit.

# Compression

Producing payloads, for tests and fixtures:

	deflated, err := compressor.Deflate(xml)
	gzipped, err := compressor.Compress(xml)

# References

  - DEFLATE RFC 1951: https://datatracker.ietf.org/doc/html/rfc1951
  - GZIP RFC 1952: https://datatracker.ietf.org/doc/html/rfc1952
*/
package compression
