package responder

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"math/big"
	"strings"

	"github.com/jmcleod/ironca/ca"
)

// call is one authorized command invocation.
type call struct {
	ca        ca.CA
	cmd       Command
	requestor *ca.Requestor
	req       *Request
	profile   string
	msgID     string
}

func (r *Responder) dispatch(ctx context.Context, cl *call) (*Response, error) {
	switch cl.cmd {
	case CmdCACert:
		return r.caCert(cl)
	case CmdCACertChain:
		return r.caCertChain(cl)
	case CmdDHPocCerts:
		return r.dhPocCerts(cl)
	case CmdEnrollCert, CmdEnrollCertCAGenKeyPair:
		return r.enroll(ctx, cl)
	case CmdRevokeCert:
		return r.revoke(ctx, cl)
	case CmdDeleteCert:
		return r.deleteCert(ctx, cl)
	case CmdCRL:
		return r.crl(ctx, cl)
	case CmdNewCRL:
		return r.newCRL(ctx, cl)
	}
	return nil, notFound("invalid command '%s'", cl.cmd)
}

func (r *Responder) caCert(cl *call) (*Response, error) {
	cert := cl.ca.Identity().Certificate()
	if cert == nil {
		return nil, errors.New("CA certificate is not available")
	}
	return accepted(ContentTypePKIXCert, cert.Raw), nil
}

func (r *Responder) caCertChain(cl *call) (*Response, error) {
	cert := cl.ca.Identity().Certificate()
	if cert == nil {
		return nil, errors.New("CA certificate is not available")
	}
	certs := append([]*x509.Certificate{cert}, cl.ca.CertChain()...)
	return accepted(ContentTypePEMFile, encodeCertificates(certs)), nil
}

func (r *Responder) dhPocCerts(cl *call) (*Response, error) {
	certs := cl.ca.DHPocCertificates()
	if certs == nil {
		return accepted("", []byte{}), nil
	}
	return accepted(ContentTypePEMFile, encodeCertificates(certs)), nil
}

// serialParams reads and checks the parameters shared by revoke-cert and
// delete-cert. The engine is not called unless ca_sha1 names this CA.
func serialParams(cl *call) (*big.Int, error) {
	q := cl.req.Query
	caSHA1 := strings.TrimSpace(q.Get(ParamCASHA1))
	if caSHA1 == "" {
		return nil, missingParam(ParamCASHA1)
	}
	serialText := q.Get(ParamSerialNumber)
	if strings.TrimSpace(serialText) == "" {
		return nil, missingParam(ParamSerialNumber)
	}
	if !strings.EqualFold(caSHA1, cl.ca.Identity().HexSHA1()) {
		return nil, ca.NewOperationError(ca.CodeBadRequest, "unknown %s", ParamCASHA1)
	}
	serial, err := ToBigInt(serialText)
	if err != nil {
		return nil, &ca.OperationError{Code: ca.CodeBadRequest, Message: "invalid " + ParamSerialNumber, Err: err}
	}
	return serial, nil
}

func (r *Responder) revoke(ctx context.Context, cl *call) (*Response, error) {
	serial, err := serialParams(cl)
	if err != nil {
		return nil, err
	}

	q := cl.req.Query
	reason := ca.ReasonUnspecified
	if q.Has(ParamReason) {
		reason, err = ca.ParseCRLReason(q.Get(ParamReason))
		if err != nil {
			return nil, &ca.OperationError{Code: ca.CodeBadRequest, Message: err.Error(), Err: err}
		}
	}

	if reason == ca.ReasonRemoveFromCRL {
		if err := cl.ca.UnrevokeCertificate(ctx, serial, cl.msgID); err != nil {
			return nil, err
		}
		return accepted("", nil), nil
	}

	invalidity, err := parseTimestamp(ParamInvalidityTime, q.Get(ParamInvalidityTime))
	if err != nil {
		return nil, err
	}
	if err := cl.ca.RevokeCertificate(ctx, serial, reason, invalidity, cl.msgID); err != nil {
		return nil, err
	}
	return accepted("", nil), nil
}

func (r *Responder) deleteCert(ctx context.Context, cl *call) (*Response, error) {
	serial, err := serialParams(cl)
	if err != nil {
		return nil, err
	}
	if err := cl.ca.RemoveCertificate(ctx, serial, cl.msgID); err != nil {
		return nil, err
	}
	return accepted("", nil), nil
}

func (r *Responder) crl(ctx context.Context, cl *call) (*Response, error) {
	var number *big.Int
	if text := cl.req.Query.Get(ParamCRLNumber); strings.TrimSpace(text) != "" {
		n, err := ToBigInt(text)
		if err != nil {
			r.logger.WarnContext(ctx, "invalid crlNumber", "ca", cl.ca.Ident().Name, "value", text)
			return nil, notFound("invalid crlNumber '%s'", text)
		}
		number = n
	}

	der, err := cl.ca.CRL(ctx, number)
	if err != nil {
		return nil, err
	}
	if der == nil {
		r.logger.WarnContext(ctx, "could not get CRL", "ca", cl.ca.Ident().Name, "number", number)
		return nil, internalFailure("could not get CRL")
	}
	return accepted(ContentTypePKIXCRL, der), nil
}

func (r *Responder) newCRL(ctx context.Context, cl *call) (*Response, error) {
	der, err := cl.ca.GenerateCRLOnDemand(ctx, cl.msgID)
	if err != nil {
		return nil, err
	}
	if der == nil {
		r.logger.WarnContext(ctx, "could not generate CRL", "ca", cl.ca.Ident().Name)
		return nil, internalFailure("could not generate CRL")
	}
	return accepted(ContentTypePKIXCRL, der), nil
}

func encodeCertificates(certs []*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}
