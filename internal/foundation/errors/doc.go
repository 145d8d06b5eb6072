// Package errors classifies pagedeploy failures so the two process front ends
// can present them: the HTTP adapter turns a ClassifiedError into a status and
// a JSON body, the CLI adapter into a one-line message and exit code 1.
//
//	return errors.NotFoundError("Project not found").
//		WithCode(errors.CodeRouterNotFound).
//		WithContext("slug", slug).
//		Build()
package errors
