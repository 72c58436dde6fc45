// Package upstream forwards gateway requests to the application server over
// HTTP. Routed socket messages post to a fixed message path; HTTP exchanges
// forward with their original method and path. Responses may carry channel
// subscription directives in Gateway-Subscribe and Gateway-Unsubscribe
// headers.
package upstream
