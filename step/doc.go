// Package step defines workflow templates and the steps they are made of.
//
// A [Template] is an ordered list of [Step] values. Channel steps (sms, email,
// push, in_app, chat) deliver content to a subscriber. Deferred steps (delay,
// digest) hold the chain until a due time computed from their [Metadata]:
//
//	tpl := &step.Template{
//	    ID:   id.NewTemplateID(),
//	    Name: "welcome",
//	    Steps: []step.Step{
//	        {Type: step.SMS, Content: "Hi {{name}}"},
//	        {Type: step.Delay, Metadata: step.Metadata{Amount: 5, Unit: step.Minutes}},
//	        {Type: step.SMS, Content: "Still there, {{name}}?"},
//	    },
//	}
//
// Templates can also be read from TOML with [ParseTemplate] or [LoadTemplate].
// Steps are copied by value into jobs when a trigger is compiled, so editing a
// template never changes jobs already in flight.
package step
