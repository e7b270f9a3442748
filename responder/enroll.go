package responder

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"mime"
	"strings"

	"github.com/magiconair/properties"

	"github.com/jmcleod/ironca/ca"
)

// templateInput is what an enrollment body contributes to a certificate
// template. publicKeyInfo is nil when the CA generates the key.
type templateInput struct {
	subject       pkix.RDNSequence
	publicKeyInfo []byte
	extensions    []pkix.Extension
}

// subjectSource extracts the template input from a request body.
type subjectSource interface {
	extract(c ca.CA, body []byte) (*templateInput, error)
}

// pkcs10Source reads a DER PKCS#10 request. With verifyPOP the request's
// own key is certified and its signature must verify; without it only the
// subject and extensions are used.
type pkcs10Source struct {
	verifyPOP bool
}

func (s pkcs10Source) extract(c ca.CA, body []byte) (*templateInput, error) {
	csr, err := x509.ParseCertificateRequest(body)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeBadRequest, Message: "invalid PKCS#10 request", Err: err}
	}
	if s.verifyPOP && !c.VerifyCSR(csr) {
		return nil, ca.NewOperationError(ca.CodeBadPOP, "proof of possession verification failed")
	}

	var subject pkix.RDNSequence
	if _, err := asn1.Unmarshal(csr.RawSubject, &subject); err != nil {
		return nil, &ca.OperationError{Code: ca.CodeBadRequest, Message: "invalid subject in PKCS#10 request", Err: err}
	}
	in := &templateInput{subject: subject, extensions: csr.Extensions}
	if s.verifyPOP {
		in.publicKeyInfo = csr.RawSubjectPublicKeyInfo
	}
	return in, nil
}

// propertiesSource reads a key/value text body with a "subject" entry.
type propertiesSource struct{}

func (propertiesSource) extract(_ ca.CA, body []byte) (*templateInput, error) {
	props, err := parseProperties(body)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeBadRequest, Message: "invalid properties body", Err: err}
	}
	text, ok := props["subject"]
	if !ok {
		return nil, ca.NewOperationError(ca.CodeBadCertTemplate, "subject is not specified")
	}
	subject, err := ca.ParseName(text)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeBadCertTemplate, Message: "invalid subject", Err: err}
	}
	return &templateInput{subject: subject}, nil
}

// sourceFor selects how the body of an enrollment is read.
func sourceFor(cmd Command, contentType string) (subjectSource, error) {
	mt := mediaType(contentType)
	switch {
	case mt == ContentTypePKCS10:
		return pkcs10Source{verifyPOP: cmd == CmdEnrollCert}, nil
	case cmd == CmdEnrollCertCAGenKeyPair && strings.HasPrefix(mt, ContentTypeText):
		return propertiesSource{}, nil
	}
	return nil, unsupportedMediaType(contentType)
}

func mediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func (r *Responder) enroll(ctx context.Context, cl *call) (*Response, error) {
	src, err := sourceFor(cl.cmd, cl.req.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	notBefore, err := parseTimestamp(ParamNotBefore, cl.req.Query.Get(ParamNotBefore))
	if err != nil {
		return nil, err
	}
	notAfter, err := parseTimestamp(ParamNotAfter, cl.req.Query.Get(ParamNotAfter))
	if err != nil {
		return nil, err
	}

	in, err := src.extract(cl.ca, cl.req.Body)
	if err != nil {
		return nil, err
	}

	caGenKey := cl.cmd == CmdEnrollCertCAGenKeyPair
	var tmpl *ca.CertTemplateData
	if caGenKey {
		tmpl, err = ca.NewCAGenKeyTemplate(in.subject, notBefore, notAfter, in.extensions, cl.profile)
	} else {
		tmpl, err = ca.NewCertTemplate(in.subject, in.publicKeyInfo, notBefore, notAfter, in.extensions, cl.profile)
	}
	if err != nil {
		return nil, err
	}

	info, err := cl.ca.GenerateCertificate(ctx, tmpl, cl.requestor, ca.RequestTypeREST, nil, cl.msgID)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Certificate == nil {
		r.logger.WarnContext(ctx, "could not generate certificate", "ca", cl.ca.Ident().Name)
		return nil, internalFailure("could not generate certificate")
	}

	if cl.ca.SaveRequest() {
		reqID, err := cl.ca.AddRequest(ctx, cl.req.Body)
		if err != nil {
			return nil, err
		}
		if err := cl.ca.AddRequestCert(ctx, reqID, info.CertID); err != nil {
			return nil, err
		}
	}

	if !caGenKey {
		return accepted(ContentTypePKIXCert, info.Certificate.Raw), nil
	}
	if len(info.PrivateKey) == 0 {
		r.logger.WarnContext(ctx, "CA did not return a private key", "ca", cl.ca.Ident().Name)
		return nil, internalFailure("could not generate key pair")
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: info.PrivateKey})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: info.Certificate.Raw})
	body := make([]byte, 0, len(keyPEM)+2+len(certPEM))
	body = append(body, keyPEM...)
	body = append(body, '\r', '\n')
	body = append(body, certPEM...)
	return accepted(ContentTypePEMFile, body), nil
}

// parseProperties decodes a Java-style properties body. Variable expansion
// is off so values are taken literally.
func parseProperties(data []byte) (map[string]string, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}
